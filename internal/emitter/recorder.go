package emitter

import (
	"bytes"
	"sync"
)

// Recorder is an in-memory Sink. It keeps every lifecycle call so callers
// can inspect or persist a finished stream.
type Recorder struct {
	mu       sync.Mutex
	starts   []Info
	chunks   [][]byte
	finishes []Summary
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Start(info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, info)
	return nil
}

func (r *Recorder) Write(_ int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, append([]byte(nil), data...))
	return nil
}

func (r *Recorder) Finish(_ Info, sum Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishes = append(r.finishes, sum)
	return nil
}

// Starts returns every Start call received.
func (r *Recorder) Starts() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Info(nil), r.starts...)
}

// Chunks returns the pushed payloads in order.
func (r *Recorder) Chunks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.chunks...)
}

// Finishes returns every Finish call received.
func (r *Recorder) Finishes() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Summary(nil), r.finishes...)
}

// Bytes returns all pushed payloads concatenated.
func (r *Recorder) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Join(r.chunks, nil)
}
