package stt

import (
	"context"
	"fmt"
	"math"
)

// silenceRMS is the level below which the mock hears nothing.
const silenceRMS = 0.003

type mockBackend struct {
	text string
}

// NewMockBackend returns a backend that hears text in any non-silent
// waveform and nothing in silence.
func NewMockBackend(text string) Backend {
	return &mockBackend{text: text}
}

func (m *mockBackend) Generate(ctx context.Context, waves [][]float32, opts GenerateOptions) ([]Hypothesis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lang := opts.Language
	if lang == "" || lang == LanguageAuto {
		lang = "en"
	}
	hyps := make([]Hypothesis, 0, len(waves))
	for i, wave := range waves {
		if rms(wave) < silenceRMS {
			hyps = append(hyps, Hypothesis{Key: fmt.Sprintf("wav%d", i)})
			continue
		}
		text := m.text
		if text == "" {
			text = fmt.Sprintf("[transcript samples=%d]", len(wave))
		}
		itn := "woitn"
		if opts.UseITN {
			itn = "withitn"
		}
		hyps = append(hyps, Hypothesis{
			Key:  fmt.Sprintf("wav%d", i),
			Text: fmt.Sprintf("<|%s|><|NEUTRAL|><|Speech|><|%s|>%s", lang, itn, text),
		})
	}
	return hyps, nil
}

func rms(wave []float32) float64 {
	if len(wave) == 0 {
		return 0
	}
	var sum float64
	for _, v := range wave {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(wave)))
}
