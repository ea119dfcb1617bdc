package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hako/durafmt"

	"zimage/generation"
)

type generateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	Seed           *int64 `json:"seed"`
	Template       string `json:"template"`
	Enhance        bool   `json:"enhance"`
}

type errorBody struct {
	Error struct {
		Code    generation.Code `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

type generateJSONResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
	Seed    *int64 `json:"seed,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	img, genErr := s.generate(r)
	if genErr != nil {
		writeError(w, genErr)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("X-Seed", strconv.FormatInt(img.Seed, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		s.log.Warn("Failed to write image response", "error", err)
	}
}

func (s *Server) handleGenerateJSON(w http.ResponseWriter, r *http.Request) {
	img, genErr := s.generate(r)
	if genErr != nil {
		writeError(w, genErr)
		return
	}

	resp := generateJSONResponse{
		Success: true,
		Message: "image generated successfully",
		Image:   fmt.Sprintf("data:%s;base64,%s", img.ContentType, base64.StdEncoding.EncodeToString(img.Data)),
		Seed:    &img.Seed,
	}
	writeJSON(w, http.StatusOK, resp)
}

// generate decodes the transport request, runs it and normalizes failures
// into the taxonomy.
func (s *Server) generate(r *http.Request) (*generation.Image, *generation.Error) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, &generation.Error{
			Code:    generation.CodeInvalidRequest,
			Message: "request body is not valid JSON",
			Err:     err,
		}
	}

	seed := generation.RandomSeed()
	if body.Seed != nil {
		seed = generation.SeedFromWire(*body.Seed)
	}

	req := generation.Request{
		Prompt:         body.Prompt,
		NegativePrompt: body.NegativePrompt,
		Width:          body.Width,
		Height:         body.Height,
		Steps:          body.Steps,
		Seed:           seed,
		Template:       body.Template,
		Enhance:        body.Enhance,
		UserID:         clientIP(r),
		Source:         sourceLabel(r),
	}

	img, err := s.svc.Generate(r.Context(), req)
	if err != nil {
		genErr := generation.AsError(err)
		s.log.Error("Generation failed", "code", genErr.Code, "error", err, "remote", clientIP(r))
		return nil, genErr
	}
	return img, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	engineState := "connected"
	code := http.StatusOK

	if err := s.engine.Health(r.Context()); err != nil {
		s.log.Warn("Engine health check failed", "error", err)
		status = "degraded"
		engineState = "unreachable"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{
		"status": status,
		"engine": engineState,
		"uptime": durafmt.Parse(time.Since(s.started).Round(time.Second)).LimitFirstN(2).String(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "online",
		"service":   "zimage",
		"templates": s.svc.Templates(),
		"defaults": map[string]any{
			"template": s.defaults.DefaultTemplate,
			"width":    s.defaults.DefaultWidth,
			"height":   s.defaults.DefaultHeight,
			"steps":    s.defaults.DefaultSteps,
		},
	})
}

func writeError(w http.ResponseWriter, genErr *generation.Error) {
	var body errorBody
	body.Error.Code = genErr.Code
	body.Error.Message = genErr.Message
	writeJSON(w, statusFor(genErr.Code), body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
