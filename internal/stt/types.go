package stt

import (
	"context"
	"errors"
)

// ErrBackendUnavailable is logged when recognition runs without a model.
var ErrBackendUnavailable = errors.New("stt: backend unavailable")

// LanguageAuto asks the backend to detect the spoken language.
const LanguageAuto = "auto"

// TranscriptResult captures recognizer output. IsEmpty marks a result with
// no usable text; it is a value, never an error.
type TranscriptResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	IsEmpty    bool    `json:"is_empty"`
}

// Hypothesis is one backend transcription, possibly carrying rich
// transcription tags.
type Hypothesis struct {
	Text string `json:"text"`
	Key  string `json:"key,omitempty"`
}

// GenerateOptions are passed through to the backend.
type GenerateOptions struct {
	Language   string
	UseITN     bool
	SampleRate int
}

// Backend transcribes mono waveforms normalized to [-1, 1).
type Backend interface {
	Generate(ctx context.Context, waves [][]float32, opts GenerateOptions) ([]Hypothesis, error)
}
