package tts

import (
	"context"
	"math"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

type mockBackend struct {
	format        audio.Format
	chunkDuration time.Duration
	frequency     float64
}

// NewMockBackend returns a backend that speaks a soft tone, one chunk per
// chunkDuration, roughly one chunk per word of input.
func NewMockBackend(sampleRate, channels int, chunkDuration time.Duration) Backend {
	if chunkDuration <= 0 {
		chunkDuration = 400 * time.Millisecond
	}
	if channels <= 0 {
		channels = 1
	}
	return &mockBackend{
		format:        audio.Format{SampleRate: sampleRate, Channels: channels, MimeType: audio.MimePCM},
		chunkDuration: chunkDuration,
		frequency:     220,
	}
}

func (m *mockBackend) Format() audio.Format { return m.format }

func (m *mockBackend) Inference(ctx context.Context, req InferenceRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		count := wordCount(req.Text)
		samples := int(int64(m.format.SampleRate) * int64(m.chunkDuration) / int64(time.Second))
		phase := 0
		for i := 0; i < count; i++ {
			planes := make([][]float32, m.format.Channels)
			for c := range planes {
				plane := make([]float32, samples)
				for n := range plane {
					t := float64(phase+n) / float64(m.format.SampleRate)
					plane[n] = float32(0.2 * math.Sin(2*math.Pi*m.frequency*t))
				}
				planes[c] = plane
			}
			phase += samples
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- Chunk{Sequence: i, Samples: planes}:
			}
		}
	}()
	return chunks, errs
}

func wordCount(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		space := r == ' ' || r == '\t' || r == '\n'
		if !space && !inWord {
			n++
		}
		inWord = !space
	}
	return n
}
