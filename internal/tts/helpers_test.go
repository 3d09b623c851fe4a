package tts

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/emitter"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var pcm22k = audio.Format{SampleRate: 22050, Channels: 1, MimeType: audio.MimePCM}

// scriptedBackend yields chunks then optionally fails. With hold set it
// blocks after the script until the context ends.
type scriptedBackend struct {
	format audio.Format
	chunks []Chunk
	err    error
	hold   bool
	calls  atomic.Int32
	last   atomic.Value // InferenceRequest
}

func (b *scriptedBackend) Format() audio.Format { return b.format }

func (b *scriptedBackend) Inference(ctx context.Context, req InferenceRequest) (<-chan Chunk, <-chan error) {
	b.calls.Add(1)
	b.last.Store(req)
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, c := range b.chunks {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- c:
			}
		}
		if b.hold {
			<-ctx.Done()
			errs <- ctx.Err()
			return
		}
		if b.err != nil {
			errs <- b.err
		}
	}()
	return chunks, errs
}

func tone(n int, v float32) Chunk {
	plane := make([]float32, n)
	for i := range plane {
		plane[i] = v
	}
	return Chunk{Samples: [][]float32{plane}}
}

// countingEmitter wraps a Stream and counts contract calls.
type countingEmitter struct {
	*emitter.Stream
	mu       sync.Mutex
	inits    int
	closes   int
	onPush   func()
	rec      *emitter.Recorder
	outcomes []string
}

func newCountingEmitter() *countingEmitter {
	rec := emitter.NewRecorder()
	return &countingEmitter{Stream: emitter.NewStream(rec), rec: rec}
}

func (c *countingEmitter) Initialize(id string, sr, ch int, mime string) error {
	c.mu.Lock()
	c.inits++
	c.mu.Unlock()
	return c.Stream.Initialize(id, sr, ch, mime)
}

func (c *countingEmitter) Push(data []byte) error {
	if err := c.Stream.Push(data); err != nil {
		return err
	}
	if c.onPush != nil {
		c.onPush()
	}
	return nil
}

func (c *countingEmitter) SetOutcome(outcome string, err error) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, outcome)
	c.mu.Unlock()
	c.Stream.SetOutcome(outcome, err)
}

func (c *countingEmitter) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.Stream.Close()
}

func newAdapter(b Backend, opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = newLogger()
	}
	if opts.Format.SampleRate == 0 {
		opts.Format = pcm22k
	}
	return NewAdapter(b, opts)
}
