package tts

import "errors"

var (
	// ErrBackendUnavailable marks a request served without a loaded backend.
	ErrBackendUnavailable = errors.New("tts: backend unavailable")
	// ErrPromptNotFound marks a request whose reference prompt is missing at
	// every candidate path.
	ErrPromptNotFound = errors.New("tts: prompt not found")
	// ErrSamplingExhausted is the backend's "sampling reaches max_trials"
	// failure. It is recoverable when no audio has been produced yet.
	ErrSamplingExhausted = errors.New("tts: sampling reaches max_trials")
	// ErrSynthesisAborted is returned when the backend fails before producing
	// any audio for a reason other than sampling exhaustion.
	ErrSynthesisAborted = errors.New("tts: synthesis aborted")
)
