package tts

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/emitter"
)

// Request contains parameters to synthesize speech.
type Request struct {
	SessionID string
	TraceID   string
	Text      string
	Voice     string
	// PromptPath overrides the configured reference prompt for this request.
	PromptPath string
}

// Chunk is one unit of backend output. A backend fills either Samples
// (planar float waveform in [-1, 1]) or Encoded (container bytes that are
// forwarded unchanged).
type Chunk struct {
	Sequence int
	Samples  [][]float32
	Encoded  []byte
}

// InferenceRequest is what the adapter hands to a Backend.
type InferenceRequest struct {
	Text       string
	Voice      string
	PromptPath string
	Stream     bool
}

// Backend is the contract for a synthesis engine. Inference is lazy and
// ordered; chunks arrive on an unbuffered channel and at most one error is
// delivered after the last chunk.
type Backend interface {
	Format() audio.Format
	Inference(ctx context.Context, req InferenceRequest) (<-chan Chunk, <-chan error)
}

// Outcomes reported on Result and published with the stream close.
const (
	OutcomeAudio              = "audio"
	OutcomePartial            = "partial"
	OutcomeRecovered          = "recovered"
	OutcomeEmpty              = "empty"
	OutcomeBackendUnavailable = "backend_unavailable"
	OutcomePromptMissing      = "prompt_missing"
	OutcomeAborted            = "aborted"
	OutcomeCancelled          = "cancelled"
)

// Result summarizes one synthesis request.
type Result struct {
	RequestID string
	Outcome   string
	Chunks    int
	Pushes    int
	Bytes     int64
	Silence   bool
	Duration  time.Duration
	State     emitter.State
}
