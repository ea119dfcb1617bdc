package generation

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"zimage/comfyui"
	"zimage/logger"
	"zimage/settings"
	"zimage/workflow"
)

// Engine is the submit/await contract against the external rendering
// engine. *comfyui.Client satisfies it; tests inject stubs.
type Engine interface {
	Submit(ctx context.Context, graph any) (*comfyui.Job, error)
	Await(ctx context.Context, job *comfyui.Job, timeout time.Duration, onProgress func(value, max int)) (*comfyui.Artifact, error)
}

// Enhancer rewrites a prompt before generation. Optional.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

// Recorder persists finished generations and answers daily-limit queries.
// Optional; a nil Recorder disables both.
type Recorder interface {
	Record(rec Record) error
	CountToday(userID string) (int, error)
}

// Service validates requests, fills workflow templates and drives the
// engine. Stateless across calls apart from the read-only template store
// and the admission semaphore.
type Service struct {
	cfg      settings.GenerationConfig
	store    *workflow.Store
	engine   Engine
	enhancer Enhancer
	recorder Recorder
	timeout  time.Duration
	sem      chan struct{}
	log      *slog.Logger
}

// New wires a Service. enhancer and recorder may be nil.
func New(cfg settings.GenerationConfig, engineCfg settings.EngineConfig, store *workflow.Store, engine Engine, enhancer Enhancer, recorder Recorder) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		enhancer: enhancer,
		recorder: recorder,
		timeout:  time.Duration(engineCfg.TimeoutSeconds) * time.Second,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		log:      logger.Service("generation"),
	}
}

// Generate runs one request end to end: validate, fill, submit, await,
// record. Every failure is a *Error with a taxonomy code; exactly one
// Image or one failure per validated request.
func (s *Service) Generate(ctx context.Context, req Request) (*Image, error) {
	req = s.applyDefaults(req)

	if err := s.validate(req); err != nil {
		return nil, err
	}
	if err := s.moderate(req); err != nil {
		return nil, err
	}
	if err := s.checkDailyLimit(req.UserID); err != nil {
		return nil, err
	}

	// Bounded admission: reject instead of queueing unboundedly against
	// the single engine instance.
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	default:
		return nil, newError(CodeBusy, "too many generations in flight, try again shortly")
	}

	prompt := req.Prompt
	if s.enhancer != nil && (req.Enhance || s.cfg.RewritePrompts) {
		enhanced, err := s.enhancer.Enhance(ctx, prompt)
		if err != nil {
			// Enhancement is best-effort; the original prompt still works.
			s.log.Warn("Prompt enhancement failed", "error", err)
		} else if enhanced != "" {
			prompt = enhanced
		}
	}

	seed, err := s.resolveSeed(req.Seed)
	if err != nil {
		return nil, wrapError(CodeInternal, "failed to draw random seed", err)
	}

	graph, err := s.store.Fill(req.Template, workflow.Params{
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		Seed:           seed,
	})
	if err != nil {
		return nil, fromFillError(err)
	}

	started := time.Now()
	job, err := s.engine.Submit(ctx, graph)
	if err != nil {
		return nil, fromEngineError(err)
	}
	s.log.Info("Job submitted", "prompt_id", job.PromptID, "template", req.Template,
		"user", req.UserID, "source", req.Source, "seed", seed)

	artifact, err := s.engine.Await(ctx, job, s.timeout, req.Progress)
	if err != nil {
		return nil, fromEngineError(err)
	}

	s.record(req, prompt, seed, time.Since(started))

	s.log.Info("Job finished", "prompt_id", job.PromptID, "bytes", len(artifact.Data),
		"duration", time.Since(started).Round(time.Millisecond))
	return &Image{
		Data:        artifact.Data,
		ContentType: artifact.ContentType,
		Seed:        seed,
	}, nil
}

// Templates lists the available workflow template names.
func (s *Service) Templates() []string {
	return s.store.Names()
}

func (s *Service) applyDefaults(req Request) Request {
	if req.Template == "" {
		req.Template = s.cfg.DefaultTemplate
	}
	if req.Width == 0 {
		req.Width = s.cfg.DefaultWidth
	}
	if req.Height == 0 {
		req.Height = s.cfg.DefaultHeight
	}
	if req.Steps == 0 {
		req.Steps = s.cfg.DefaultSteps
	}
	return req
}

func (s *Service) validate(req Request) *Error {
	if strings.TrimSpace(req.Prompt) == "" {
		return newError(CodeInvalidRequest, "prompt must not be empty")
	}
	if req.Width < s.cfg.MinSize || req.Width > s.cfg.MaxSize {
		return newError(CodeInvalidRequest, "width must be between %d and %d, got %d", s.cfg.MinSize, s.cfg.MaxSize, req.Width)
	}
	if req.Height < s.cfg.MinSize || req.Height > s.cfg.MaxSize {
		return newError(CodeInvalidRequest, "height must be between %d and %d, got %d", s.cfg.MinSize, s.cfg.MaxSize, req.Height)
	}
	if req.Width%8 != 0 || req.Height%8 != 0 {
		return newError(CodeInvalidRequest, "width and height must be multiples of 8")
	}
	if req.Steps < 1 || req.Steps > s.cfg.MaxSteps {
		return newError(CodeInvalidRequest, "steps must be between 1 and %d, got %d", s.cfg.MaxSteps, req.Steps)
	}
	return nil
}

func (s *Service) moderate(req Request) *Error {
	if len(req.Prompt) > s.cfg.MaxPromptLength {
		return newError(CodeModerationBlocked, "prompt too long (max %d characters)", s.cfg.MaxPromptLength)
	}
	lower := strings.ToLower(req.Prompt)
	for _, word := range s.cfg.BadWords {
		if strings.Contains(lower, strings.ToLower(word)) {
			return newError(CodeModerationBlocked, "prompt contains blocked content")
		}
	}
	return nil
}

func (s *Service) checkDailyLimit(userID string) *Error {
	if s.recorder == nil || s.cfg.DailyLimit <= 0 || userID == "" {
		return nil
	}
	count, err := s.recorder.CountToday(userID)
	if err != nil {
		s.log.Warn("Daily limit lookup failed", "user", userID, "error", err)
		return nil
	}
	if count >= s.cfg.DailyLimit {
		return newError(CodeDailyLimitReached, "daily limit of %d generations reached", s.cfg.DailyLimit)
	}
	return nil
}

func (s *Service) resolveSeed(seed Seed) (int64, error) {
	if !seed.Random {
		return seed.Value, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1<<63-1))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

func (s *Service) record(req Request, prompt string, seed int64, took time.Duration) {
	if s.recorder == nil {
		return
	}
	rec := Record{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Source:         req.Source,
		Template:       req.Template,
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		Seed:           seed,
		Duration:       took.Seconds(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.recorder.Record(rec); err != nil {
		s.log.Warn("Failed to record generation", "error", err)
	}
}

func fromFillError(err error) *Error {
	switch {
	case errors.Is(err, workflow.ErrUnknownTemplate):
		return wrapError(CodeUnknownTemplate, "no such workflow template", err)
	default:
		var slot *workflow.MissingSlotError
		if errors.As(err, &slot) {
			return wrapError(CodeMissingSlot, slot.Error(), err)
		}
		return wrapError(CodeInternal, "workflow fill failed", err)
	}
}

func fromEngineError(err error) *Error {
	var failed *comfyui.JobFailedError
	switch {
	case errors.As(err, &failed):
		return wrapError(CodeEngineJobFailed, failed.Message, err)
	case errors.Is(err, comfyui.ErrUnreachable):
		return wrapError(CodeEngineUnreachable, "rendering engine is unreachable", err)
	case errors.Is(err, comfyui.ErrRejected):
		return wrapError(CodeEngineRejected, "rendering engine rejected the workflow", err)
	case errors.Is(err, comfyui.ErrTimeout):
		return wrapError(CodeEngineTimeout, "generation timed out, try again later", err)
	case errors.Is(err, comfyui.ErrArtifactFetch):
		return wrapError(CodeArtifactFetch, "generated image could not be retrieved", err)
	default:
		return wrapError(CodeInternal, "generation failed", err)
	}
}
