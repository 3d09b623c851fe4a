// Package emitter implements the write side of a real-time audio stream:
// one initialization that fixes the format, ordered pushes, and a single
// close. Transports plug in as Sinks.
package emitter

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotInitialized is returned when audio is pushed before the stream
	// format is known. It indicates a caller defect.
	ErrNotInitialized = errors.New("emitter: push before initialize")
	// ErrClosed is returned when audio is pushed after Close.
	ErrClosed = errors.New("emitter: stream closed")
)

// Emitter is the contract the synthesis adapter writes to.
type Emitter interface {
	// Initialize fixes the stream identity and format. Only the first
	// successful call takes effect; later calls are silent no-ops.
	Initialize(requestID string, sampleRate, channels int, mimeType string) error
	// Push appends encoded audio to the active stream.
	Push(data []byte) error
	// Close ends the stream. It is safe to call more than once.
	Close() error
}

// OutcomeRecorder is implemented by emitters that report how a stream ended.
type OutcomeRecorder interface {
	SetOutcome(outcome string, err error)
}

// Info describes an initialized stream.
type Info struct {
	RequestID  string
	SampleRate int
	Channels   int
	MimeType   string
}

// Summary is handed to the sink when the stream closes.
type Summary struct {
	Pushes  int
	Bytes   int64
	Outcome string
	Err     string
}

// State is the per-request stream state.
type State struct {
	Initialized   bool
	FramesEmitted bool
	RequestID     string
}

// Sink is a transport that receives a stream's lifecycle.
type Sink interface {
	Start(info Info) error
	Write(seq int, data []byte) error
	Finish(info Info, sum Summary) error
}

// Stream enforces the emitter contract on top of a Sink.
type Stream struct {
	sink Sink

	mu     sync.Mutex
	state  State
	info   Info
	sum    Summary
	closed bool
}

// NewStream wraps sink.
func NewStream(sink Sink) *Stream {
	return &Stream{sink: sink}
}

func (s *Stream) Initialize(requestID string, sampleRate, channels int, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Initialized || s.closed {
		return nil
	}
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("emitter: invalid format %d Hz/%d ch", sampleRate, channels)
	}
	info := Info{RequestID: requestID, SampleRate: sampleRate, Channels: channels, MimeType: mimeType}
	if err := s.sink.Start(info); err != nil {
		return fmt.Errorf("emitter: start stream: %w", err)
	}
	s.info = info
	s.state.Initialized = true
	s.state.RequestID = requestID
	return nil
}

func (s *Stream) Push(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.state.Initialized {
		return ErrNotInitialized
	}
	if len(data) == 0 {
		return nil
	}
	if err := s.sink.Write(s.sum.Pushes, data); err != nil {
		return fmt.Errorf("emitter: write chunk %d: %w", s.sum.Pushes, err)
	}
	s.sum.Pushes++
	s.sum.Bytes += int64(len(data))
	s.state.FramesEmitted = true
	return nil
}

func (s *Stream) SetOutcome(outcome string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum.Outcome = outcome
	if err != nil {
		s.sum.Err = err.Error()
	}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.state.Initialized {
		return nil
	}
	return s.sink.Finish(s.info, s.sum)
}

// State returns a snapshot of the stream state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the format fixed at initialization.
func (s *Stream) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Summary returns the push totals so far.
func (s *Stream) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}
