package comfyui

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Job wraps the engine-assigned prompt id for one submitted workflow. It is
// owned by the call that created it and is never shared across requests.
type Job struct {
	PromptID    string
	SubmittedAt time.Time
}

// Artifact is the raw binary result of a finished job.
type Artifact struct {
	Data        []byte
	ContentType string
	Filename    string
}

var (
	// ErrUnreachable means no connection to the engine could be established.
	ErrUnreachable = errors.New("engine unreachable")
	// ErrRejected means the engine refused the submitted graph.
	ErrRejected = errors.New("engine rejected workflow")
	// ErrTimeout means the wait elapsed; the engine-side job keeps running.
	ErrTimeout = errors.New("engine timed out")
	// ErrArtifactFetch means the job succeeded but the artifact download
	// failed even after a retry.
	ErrArtifactFetch = errors.New("artifact fetch failed")
)

// JobFailedError carries the engine's diagnostic for a terminally failed job.
type JobFailedError struct {
	PromptID string
	Message  string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("engine job %s failed: %s", e.PromptID, e.Message)
}

type queueResponse struct {
	PromptID string `json:"prompt_id"`
}

type outputRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type nodeOutput struct {
	Images []outputRef `json:"images"`
	Gifs   []outputRef `json:"gifs"`
}

type historyStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

type historyEntry struct {
	Outputs map[string]nodeOutput `json:"outputs"`
	Status  historyStatus         `json:"status"`
}

// failureMessage digs the execution_error diagnostic out of the status
// message log. History messages are [name, payload] pairs.
func (e historyEntry) failureMessage() string {
	for _, raw := range e.Status.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil || name != "execution_error" {
			continue
		}
		var payload struct {
			ExceptionMessage string `json:"exception_message"`
			ExceptionType    string `json:"exception_type"`
		}
		if err := json.Unmarshal(pair[1], &payload); err == nil && payload.ExceptionMessage != "" {
			return payload.ExceptionMessage
		}
	}
	if e.Status.StatusStr != "" {
		return e.Status.StatusStr
	}
	return "unknown engine failure"
}

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsExecuting struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type wsExecutionError struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	ExceptionMessage string `json:"exception_message"`
}

type wsProgress struct {
	Value int `json:"value"`
	Max   int `json:"max"`
}
