package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"zimage/logger"
	"zimage/settings"
)

const healthCacheTTL = 3 * time.Second

// Client talks to a single external ComfyUI instance. It keeps no state
// beyond the connection pool; every in-flight Job belongs to its caller.
type Client struct {
	baseURL    string
	wsURL      string
	clientID   string
	httpClient *http.Client
	poll       time.Duration
	log        *slog.Logger

	mu            sync.Mutex
	healthErr     error
	healthChecked time.Time
}

// New builds a client from the engine configuration. The generated client
// id scopes websocket push messages to this process.
func New(cfg settings.EngineConfig) *Client {
	base := buildBaseURL(cfg.Url, cfg.Port)
	return &Client{
		baseURL:  base,
		wsURL:    "ws" + strings.TrimPrefix(base, "http"),
		clientID: uuid.NewString(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		poll: time.Duration(cfg.PollSeconds) * time.Second,
		log:  logger.Service("comfyui"),
	}
}

// buildBaseURL builds the engine base URL, tolerating a host with or
// without an explicit scheme.
func buildBaseURL(host string, port int) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return fmt.Sprintf("%s:%d", strings.TrimSuffix(host, "/"), port)
	}
	return fmt.Sprintf("http://%s:%d", strings.TrimSuffix(host, "/"), port)
}

// Submit sends a filled workflow to the engine's job queue and returns the
// engine-assigned handle. Transient connection failures are retried once
// with a short backoff before surfacing ErrUnreachable.
func (c *Client) Submit(ctx context.Context, graph any) (*Job, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": c.clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}

	resp, err := c.post(ctx, "/prompt", body)
	if err != nil {
		c.log.Warn("Submit failed, retrying once", "error", err)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())
		}
		resp, err = c.post(ctx, "/prompt", body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var queued queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		return nil, fmt.Errorf("%w: failed to decode queue response: %v", ErrRejected, err)
	}
	if queued.PromptID == "" {
		return nil, fmt.Errorf("%w: queue response carried no prompt_id", ErrRejected)
	}

	c.log.Debug("Workflow queued", "prompt_id", queued.PromptID)
	return &Job{PromptID: queued.PromptID, SubmittedAt: time.Now()}, nil
}

// Await blocks until the job reaches a terminal state or the timeout
// elapses. It subscribes to the engine's websocket push channel and falls
// back to polling the history endpoint when the socket is unavailable.
// onProgress may be nil. A timeout does not cancel the engine-side job.
func (c *Client) Await(ctx context.Context, job *Job, timeout time.Duration, onProgress func(value, max int)) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.waitSocket(ctx, job, onProgress); err != nil {
		var failed *JobFailedError
		switch {
		case errors.As(err, &failed):
			return nil, err
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: job %s still running after %s", ErrTimeout, job.PromptID, timeout)
		default:
			c.log.Debug("Websocket wait unavailable, falling back to polling", "error", err)
			if err := c.waitPoll(ctx, job); err != nil {
				return nil, err
			}
		}
	}

	return c.collect(ctx, job)
}

// Cancel asks the engine to interrupt the currently executing job. ComfyUI
// cannot target a queued prompt id, so this is best-effort only and is
// never invoked implicitly on timeout.
func (c *Client) Cancel(ctx context.Context, job *Job) error {
	resp, err := c.post(ctx, "/interrupt", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("interrupt returned status %d", resp.StatusCode)
	}
	c.log.Info("Interrupt requested", "prompt_id", job.PromptID)
	return nil
}

// Health reports whether the engine is reachable, cached briefly so both
// facades can poll it without hammering the engine.
func (c *Client) Health(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.healthChecked) < healthCacheTTL {
		return c.healthErr
	}

	c.healthErr = c.checkHealth(ctx)
	c.healthChecked = time.Now()
	return c.healthErr
}

func (c *Client) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: system_stats returned status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *Client) waitSocket(ctx context.Context, job *Job, onProgress func(value, max int)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.wsURL+"/ws?clientId="+c.clientID, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}

		var event wsEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue // binary preview frames land here, skip them
		}

		switch event.Type {
		case "executing":
			var data wsExecuting
			if json.Unmarshal(event.Data, &data) != nil {
				continue
			}
			if data.PromptID == job.PromptID && data.Node == nil {
				return nil
			}
		case "execution_error":
			var data wsExecutionError
			if json.Unmarshal(event.Data, &data) != nil {
				continue
			}
			if data.PromptID == job.PromptID {
				return &JobFailedError{PromptID: job.PromptID, Message: data.ExceptionMessage}
			}
		case "progress":
			if onProgress == nil {
				continue
			}
			var data wsProgress
			if json.Unmarshal(event.Data, &data) == nil {
				onProgress(data.Value, data.Max)
			}
		}
	}
}

func (c *Client) waitPoll(ctx context.Context, job *Job) error {
	interval := c.poll
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, found, err := c.history(ctx, job.PromptID)
		if err != nil && ctx.Err() == nil {
			c.log.Warn("History poll failed", "prompt_id", job.PromptID, "error", err)
		}
		if found {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: job %s still running", ErrTimeout, job.PromptID)
		}
	}
}

// collect reads the terminal history entry and downloads the artifact. A
// download failure after a reported success is retried once before being
// surfaced as ErrArtifactFetch.
func (c *Client) collect(ctx context.Context, job *Job) (*Artifact, error) {
	// The artifact fetch must outlive the wait deadline: the job already
	// finished, only the download remains.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	entry, found, err := c.history(fetchCtx, job.PromptID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactFetch, err)
	}
	if !found {
		return nil, &JobFailedError{PromptID: job.PromptID, Message: "job finished without a history entry"}
	}
	if entry.Status.StatusStr == "error" {
		return nil, &JobFailedError{PromptID: job.PromptID, Message: entry.failureMessage()}
	}

	ref, ok := firstOutput(entry)
	if !ok {
		return nil, &JobFailedError{PromptID: job.PromptID, Message: "job produced no image output"}
	}

	artifact, err := c.view(fetchCtx, ref)
	if err != nil {
		c.log.Warn("Artifact fetch failed, retrying once", "prompt_id", job.PromptID, "error", err)
		artifact, err = c.view(fetchCtx, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArtifactFetch, err)
		}
	}
	return artifact, nil
}

func firstOutput(entry historyEntry) (outputRef, bool) {
	for _, output := range entry.Outputs {
		if len(output.Images) > 0 {
			return output.Images[0], true
		}
		if len(output.Gifs) > 0 {
			return output.Gifs[0], true
		}
	}
	return outputRef{}, false
}

func (c *Client) history(ctx context.Context, promptID string) (historyEntry, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+promptID, nil)
	if err != nil {
		return historyEntry{}, false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return historyEntry{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return historyEntry{}, false, fmt.Errorf("history returned status %d", resp.StatusCode)
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return historyEntry{}, false, fmt.Errorf("failed to decode history: %w", err)
	}

	entry, found := history[promptID]
	return entry, found, nil
}

func (c *Client) view(ctx context.Context, ref outputRef) (*Artifact, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	folderType := ref.Type
	if folderType == "" {
		folderType = "output"
	}
	query.Set("type", folderType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("view returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	return &Artifact{Data: data, ContentType: contentType, Filename: ref.Filename}, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}
