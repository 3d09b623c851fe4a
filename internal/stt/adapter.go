package stt

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-voice/internal/stt"

// nominalConfidence is reported for every non-empty transcript; the backend
// exposes no per-utterance score.
const nominalConfidence = 1.0

// Adapter normalizes audio segments and runs them through a recognition
// backend. It never returns an error: any failure yields an empty result.
type Adapter struct {
	backend  Backend
	language string
	useITN   bool
	format   audio.Format
	logger   *slog.Logger
	tracer   trace.Tracer
	requests metric.Int64Counter
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	// Language is used when a request names none. Empty means auto.
	Language string
	UseITN   bool
	// Format fills in sample rate and channels for segments that carry none.
	Format audio.Format
	Logger *slog.Logger
}

func NewAdapter(backend Backend, opts AdapterOptions) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Language == "" {
		opts.Language = LanguageAuto
	}
	if opts.Format.SampleRate <= 0 {
		opts.Format.SampleRate = 16000
	}
	if opts.Format.Channels <= 0 {
		opts.Format.Channels = 1
	}
	a := &Adapter{
		backend:  backend,
		language: opts.Language,
		useITN:   opts.UseITN,
		format:   opts.Format,
		logger:   logger.With(slog.String("component", "stt-adapter")),
		tracer:   otel.Tracer(instrumentationName),
	}
	requests, err := otel.Meter(instrumentationName).Int64Counter("loqa.stt.requests",
		metric.WithDescription("Recognition requests by result"))
	if err != nil {
		a.logger.Warn("failed to initialize metrics", slogError(err))
	} else {
		a.requests = requests
	}
	return a
}

// Available reports whether a backend is loaded.
func (a *Adapter) Available() bool { return a.backend != nil }

// Recognize transcribes seg. An empty language uses the configured default.
func (a *Adapter) Recognize(ctx context.Context, seg audio.Segment, language string) TranscriptResult {
	if language == "" {
		language = a.language
	}
	ctx, span := a.tracer.Start(ctx, "stt.recognize", trace.WithAttributes(attribute.String("language", language)))
	defer span.End()

	result, outcome := a.recognize(ctx, seg, language)
	span.SetAttributes(attribute.String("result", outcome))
	if a.requests != nil {
		a.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", outcome)))
	}
	return result
}

func (a *Adapter) recognize(ctx context.Context, seg audio.Segment, language string) (TranscriptResult, string) {
	empty := TranscriptResult{Language: language, IsEmpty: true}
	if a.backend == nil {
		a.logger.Warn("recognition requested without a loaded model", slogError(ErrBackendUnavailable))
		return empty, "unavailable"
	}

	pcm, err := audio.Normalize(seg, a.format)
	if err != nil {
		a.logger.Warn("failed to normalize audio segment", slogError(err))
		return empty, "invalid"
	}
	wave, err := monoWave(pcm)
	if err != nil {
		a.logger.Warn("failed to decode audio segment", slogError(err))
		return empty, "invalid"
	}
	if len(wave) == 0 {
		return empty, "empty"
	}

	hyps, err := a.backend.Generate(ctx, [][]float32{wave}, GenerateOptions{
		Language:   language,
		UseITN:     a.useITN,
		SampleRate: pcm.SampleRate,
	})
	if err != nil {
		a.logger.Warn("recognition failed", slogError(err))
		return empty, "error"
	}
	if len(hyps) == 0 {
		return empty, "empty"
	}

	text, detected := Postprocess(hyps[0].Text)
	if language == LanguageAuto && detected != "" {
		language = detected
		empty.Language = detected
	}
	if text == "" {
		return empty, "empty"
	}
	return TranscriptResult{
		Text:       text,
		Confidence: nominalConfidence,
		Language:   language,
	}, "text"
}

// monoWave converts PCM16 to floats, averaging channels down to mono.
func monoWave(pcm audio.PCM) ([]float32, error) {
	samples, err := audio.PCM16ToFloat(pcm.Data)
	if err != nil {
		return nil, err
	}
	ch := pcm.Channels
	if ch <= 1 {
		return samples, nil
	}
	frames := len(samples) / ch
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += samples[i*ch+c]
		}
		mono[i] = sum / float32(ch)
	}
	return mono, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
