package generation

import (
	"time"
)

// Seed is the sampling seed as an explicit variant instead of a -1
// sentinel. The wire-level -1 convention exists only at the facades.
type Seed struct {
	Random bool
	Value  int64
}

// FixedSeed pins the sampler to a specific seed.
func FixedSeed(value int64) Seed {
	return Seed{Value: value}
}

// RandomSeed lets the service draw a fresh seed per request.
func RandomSeed() Seed {
	return Seed{Random: true}
}

// SeedFromWire translates the facades' -1 convention into a Seed.
func SeedFromWire(value int64) Seed {
	if value < 0 {
		return RandomSeed()
	}
	return FixedSeed(value)
}

// Request describes one desired image. Immutable once handed to Generate;
// zero-valued dimension/step fields take the configured defaults.
type Request struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	Seed           Seed
	Template       string
	Enhance        bool

	// Caller identity, used for records and daily limits.
	UserID string
	Source string

	// Progress receives sampler progress while waiting on the engine.
	// Only the one-shot CLI sets it.
	Progress func(value, max int)
}

// Image is the transient result of a generation; this layer never persists
// the bytes.
type Image struct {
	Data        []byte
	ContentType string
	Seed        int64
}

// Record is what the store keeps about a finished generation. Bytes are
// deliberately excluded.
type Record struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Source         string    `json:"source"`
	Template       string    `json:"template"`
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negative_prompt"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Steps          int       `json:"steps"`
	Seed           int64     `json:"seed"`
	Duration       float64   `json:"duration_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}
