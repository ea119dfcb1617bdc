package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"zimage/generation"
	"zimage/settings"
)

type stubService struct {
	img     *generation.Image
	err     error
	gotReq  generation.Request
	called  int
	listing []string
}

func (s *stubService) Generate(ctx context.Context, req generation.Request) (*generation.Image, error) {
	s.called++
	s.gotReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.img, nil
}

func (s *stubService) Templates() []string {
	return s.listing
}

type stubHealth struct {
	err error
}

func (s *stubHealth) Health(ctx context.Context) error {
	return s.err
}

func testServer(svc Generator, health HealthChecker) *Server {
	return New(
		settings.ServerConfig{Port: 8080, RatePerMinute: 6000, RateBurst: 100},
		settings.GenerationConfig{},
		svc,
		health,
	)
}

func postGenerate(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestGenerateReturnsImageBytes(t *testing.T) {
	svc := &stubService{img: &generation.Image{Data: []byte("png-bytes"), ContentType: "image/png", Seed: 42}}
	router := testServer(svc, &stubHealth{}).Router()

	rec := postGenerate(t, router, "/generate", `{"prompt": "a red apple", "width": 512, "height": 512, "steps": 4, "seed": 42}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("X-Seed"); got != "42" {
		t.Errorf("X-Seed = %q, want 42", got)
	}
	if rec.Body.String() != "png-bytes" {
		t.Error("body does not carry the image bytes")
	}

	if svc.gotReq.Prompt != "a red apple" || svc.gotReq.Width != 512 || svc.gotReq.Steps != 4 {
		t.Errorf("service got %+v", svc.gotReq)
	}
	if svc.gotReq.Seed.Random || svc.gotReq.Seed.Value != 42 {
		t.Errorf("seed = %+v, want fixed 42", svc.gotReq.Seed)
	}
}

func TestGenerateSeedWireConvention(t *testing.T) {
	svc := &stubService{img: &generation.Image{Data: []byte("x"), ContentType: "image/png"}}
	router := testServer(svc, &stubHealth{}).Router()

	postGenerate(t, router, "/generate", `{"prompt": "x", "seed": -1}`)
	if !svc.gotReq.Seed.Random {
		t.Error("seed -1 should request a random seed")
	}

	postGenerate(t, router, "/generate", `{"prompt": "x"}`)
	if !svc.gotReq.Seed.Random {
		t.Error("absent seed should request a random seed")
	}
}

func TestGenerateInvalidJSON(t *testing.T) {
	svc := &stubService{}
	router := testServer(svc, &stubHealth{}).Router()

	rec := postGenerate(t, router, "/generate", `{"prompt": `)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Error.Code != generation.CodeInvalidRequest {
		t.Errorf("code = %s, want invalid_request", body.Error.Code)
	}
	if svc.called != 0 {
		t.Error("malformed request reached the service")
	}
}

func TestGenerateErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code generation.Code
		want int
	}{
		{generation.CodeInvalidRequest, http.StatusBadRequest},
		{generation.CodeModerationBlocked, http.StatusBadRequest},
		{generation.CodeUnknownTemplate, http.StatusBadRequest},
		{generation.CodeBusy, http.StatusTooManyRequests},
		{generation.CodeDailyLimitReached, http.StatusTooManyRequests},
		{generation.CodeEngineUnreachable, http.StatusBadGateway},
		{generation.CodeEngineRejected, http.StatusBadGateway},
		{generation.CodeEngineTimeout, http.StatusGatewayTimeout},
		{generation.CodeEngineJobFailed, http.StatusInternalServerError},
		{generation.CodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			svc := &stubService{err: &generation.Error{Code: tc.code, Message: "nope"}}
			router := testServer(svc, &stubHealth{}).Router()

			rec := postGenerate(t, router, "/generate", `{"prompt": "x"}`)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			if body := decodeError(t, rec); body.Error.Code != tc.code {
				t.Errorf("body code = %s, want %s", body.Error.Code, tc.code)
			}
		})
	}
}

func TestGenerateJSONEncodesImage(t *testing.T) {
	svc := &stubService{img: &generation.Image{Data: []byte("png-bytes"), ContentType: "image/png", Seed: 7}}
	router := testServer(svc, &stubHealth{}).Router()

	rec := postGenerate(t, router, "/generate/json", `{"prompt": "x"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body generateJSONResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if !body.Success {
		t.Error("success = false")
	}
	if !strings.HasPrefix(body.Image, "data:image/png;base64,") {
		t.Errorf("image = %q, want a data URI", body.Image)
	}
	if body.Seed == nil || *body.Seed != 7 {
		t.Errorf("seed = %v, want 7", body.Seed)
	}
	if svc.gotReq.Source != "http-json" {
		t.Errorf("source = %q, want http-json", svc.gotReq.Source)
	}
}

func TestHealth(t *testing.T) {
	router := testServer(&stubService{}, &stubHealth{}).Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "healthy" || body["engine"] != "connected" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	router := testServer(&stubService{}, &stubHealth{err: context.DeadlineExceeded}).Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRootListsTemplates(t *testing.T) {
	svc := &stubService{listing: []string{"basic", "turbo"}}
	router := testServer(svc, &stubHealth{}).Router()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Templates []string `json:"templates"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Templates) != 2 {
		t.Errorf("templates = %v", body.Templates)
	}
}

func TestRateLimit(t *testing.T) {
	svc := &stubService{img: &generation.Image{Data: []byte("x"), ContentType: "image/png"}}
	srv := New(
		settings.ServerConfig{Port: 8080, RatePerMinute: 60, RateBurst: 1},
		settings.GenerationConfig{},
		svc,
		&stubHealth{},
	)
	router := srv.Router()

	first := postGenerate(t, router, "/generate", `{"prompt": "x"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := postGenerate(t, router, "/generate", `{"prompt": "x"}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if body := decodeError(t, second); body.Error.Code != generation.CodeBusy {
		t.Errorf("code = %s, want rate_limited", body.Error.Code)
	}
}
