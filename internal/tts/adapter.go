package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/emitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-voice/internal/tts"

// Options configures an Adapter.
type Options struct {
	// Silence is the length of the fallback block. Zero means one second.
	Silence time.Duration
	// Prompts resolves the reference prompt. Nil means the backend does not
	// take one.
	Prompts *PromptResolver
	// Format is used when no backend is loaded.
	Format audio.Format
	// NewRequestID overrides request id generation.
	NewRequestID func() string
	Logger       *slog.Logger
}

// Adapter turns a synthesis backend into a continuously emitted audio stream.
// It is safe for concurrent use; every call to Synthesize owns its own stream
// state and the backend handle is only read.
type Adapter struct {
	backend  Backend
	prompts  *PromptResolver
	silence  audio.SilenceGenerator
	format   audio.Format
	newID    func() string
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	requests metric.Int64Counter
	chunks   metric.Int64Counter
	first    metric.Float64Histogram
}

// NewAdapter wraps backend. A nil backend is valid: every request is then
// answered with fallback silence.
func NewAdapter(backend Backend, opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		backend: backend,
		prompts: opts.Prompts,
		silence: audio.NewSilenceGenerator(opts.Silence),
		format:  opts.Format,
		newID:   opts.NewRequestID,
		logger:  logger.With(slog.String("component", "tts-adapter")),
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	if a.newID == nil {
		a.newID = NewRequestID
	}
	if err := a.initMetrics(); err != nil {
		a.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return a
}

// NewRequestID returns a fresh stream request id.
func NewRequestID() string {
	return "tts_req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (a *Adapter) initMetrics() error {
	var err error
	a.requests, err = a.meter.Int64Counter("loqa.tts.requests",
		metric.WithDescription("Synthesis requests by outcome"))
	if err != nil {
		return err
	}
	a.chunks, err = a.meter.Int64Counter("loqa.tts.chunks",
		metric.WithDescription("Audio chunks forwarded to emitters"))
	if err != nil {
		return err
	}
	a.first, err = a.meter.Float64Histogram("loqa.tts.first_audio",
		metric.WithDescription("Time from request to first forwarded audio"),
		metric.WithUnit("ms"))
	return err
}

// Format returns the stream format requests are initialized with.
func (a *Adapter) Format() audio.Format {
	f := a.format
	if a.backend != nil {
		f = a.backend.Format()
	}
	if f.MimeType == "" {
		f.MimeType = audio.MimePCM
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}

// Available reports whether a backend is loaded.
func (a *Adapter) Available() bool { return a.backend != nil }

// Synthesize streams req into em. The emitter is initialized once, receives
// at least one push unless the context is cancelled first, and is closed
// exactly once before Synthesize returns.
//
// Backend failures after audio has been forwarded end the stream normally.
// Failures before any audio produce one silence block; sampling exhaustion is
// then reported as recovered, anything else returns ErrSynthesisAborted.
func (a *Adapter) Synthesize(ctx context.Context, req Request, em emitter.Emitter) (res Result, err error) {
	st := &stream{
		adapter:   a,
		em:        em,
		requestID: a.newID(),
		format:    a.Format(),
		started:   time.Now(),
	}
	ctx, span := a.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("request_id", st.requestID),
		attribute.String("session_id", req.SessionID),
		attribute.Int("text_length", len(req.Text)),
	))
	logger := a.logger.With(slog.String("request_id", st.requestID), slog.String("session_id", req.SessionID))
	st.logger = logger

	defer func() {
		if rec, ok := em.(emitter.OutcomeRecorder); ok {
			rec.SetOutcome(st.outcome, err)
		}
		if cerr := em.Close(); cerr != nil {
			logger.Warn("failed to close audio stream", slogError(cerr))
		}
		res = st.result()
		if a.requests != nil {
			a.requests.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", res.Outcome)))
		}
		span.SetAttributes(attribute.String("outcome", res.Outcome), attribute.Int("pushes", res.Pushes))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := st.initialize(); err != nil {
		st.outcome = OutcomeAborted
		return Result{}, err
	}

	if a.backend == nil {
		logger.Warn("synthesis backend unavailable; emitting silence", slogError(ErrBackendUnavailable))
		return Result{}, st.fallback(OutcomeBackendUnavailable)
	}

	var promptPath string
	if a.prompts != nil {
		path, perr := a.prompts.Resolve(req.PromptPath)
		if perr != nil {
			logger.Warn("prompt audio missing; emitting silence", slogError(perr))
			return Result{}, st.fallback(OutcomePromptMissing)
		}
		promptPath = path
	}

	return Result{}, st.run(ctx, InferenceRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		PromptPath: promptPath,
		Stream:     true,
	})
}

// stream is the per-request state of one Synthesize call.
type stream struct {
	adapter   *Adapter
	em        emitter.Emitter
	logger    *slog.Logger
	requestID string
	format    audio.Format
	started   time.Time

	state   emitter.State
	outcome string
	chunks  int
	pushes  int
	bytes   int64
	silence bool
}

func (s *stream) initialize() error {
	if s.state.Initialized {
		return nil
	}
	if err := s.em.Initialize(s.requestID, s.format.SampleRate, s.format.Channels, s.format.MimeType); err != nil {
		return fmt.Errorf("tts: initialize stream: %w", err)
	}
	s.state.Initialized = true
	s.state.RequestID = s.requestID
	return nil
}

func (s *stream) run(ctx context.Context, req InferenceRequest) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, errs := s.adapter.backend.Inference(ctx, req)
	var backendErr error
loop:
	for chunks != nil || errs != nil {
		select {
		case <-ctx.Done():
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := s.forward(ctx, chunk); err != nil {
				if errors.Is(err, errChunkFormat) {
					backendErr = err
					break loop
				}
				s.outcome = OutcomeAborted
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				backendErr = err
				break loop
			}
		}
	}

	if err := ctx.Err(); err != nil {
		s.outcome = OutcomeCancelled
		s.logger.Info("synthesis cancelled", slog.Int("chunks", s.chunks))
		return err
	}

	switch {
	case backendErr == nil && s.produced():
		s.outcome = OutcomeAudio
		return nil
	case backendErr == nil:
		s.logger.Warn("synthesis produced no audio; emitting silence")
		return s.fallback(OutcomeEmpty)
	case s.produced():
		s.logger.Warn("synthesis failed after audio was forwarded; ending stream",
			slog.Int("chunks", s.chunks), slogError(backendErr))
		s.outcome = OutcomePartial
		return nil
	case errors.Is(backendErr, ErrSamplingExhausted):
		s.logger.Warn("synthesis sampling exhausted; emitting silence", slogError(backendErr))
		return s.fallback(OutcomeRecovered)
	default:
		s.logger.Error("synthesis failed before any audio", slogError(backendErr))
		if err := s.fallback(OutcomeAborted); err != nil {
			return err
		}
		s.outcome = OutcomeAborted
		return fmt.Errorf("%w: %w", ErrSynthesisAborted, backendErr)
	}
}

var errChunkFormat = errors.New("tts: chunk does not match stream format")

func (s *stream) forward(ctx context.Context, chunk Chunk) error {
	payload := chunk.Encoded
	if len(payload) == 0 && len(chunk.Samples) > 0 {
		if len(chunk.Samples) != s.format.Channels {
			return fmt.Errorf("%w: chunk %d has %d channels, stream has %d",
				errChunkFormat, chunk.Sequence, len(chunk.Samples), s.format.Channels)
		}
		payload = audio.FloatToPCM16(chunk.Samples)
	}
	if len(payload) == 0 {
		return nil
	}
	if err := s.push(payload); err != nil {
		return err
	}
	if s.chunks == 0 && s.adapter.first != nil {
		s.adapter.first.Record(ctx, float64(time.Since(s.started).Microseconds())/1000)
	}
	s.chunks++
	if s.adapter.chunks != nil {
		s.adapter.chunks.Add(ctx, 1)
	}
	return nil
}

func (s *stream) push(payload []byte) error {
	if err := s.em.Push(payload); err != nil {
		if errors.Is(err, emitter.ErrNotInitialized) {
			s.logger.Error("audio pushed before stream initialization", slogError(err))
		}
		return fmt.Errorf("tts: push audio: %w", err)
	}
	s.pushes++
	s.bytes += int64(len(payload))
	s.state.FramesEmitted = true
	return nil
}

// fallback pushes exactly one silence block in the stream's encoding.
func (s *stream) fallback(outcome string) error {
	s.outcome = outcome
	block, err := s.adapter.silence.Block(s.format)
	if err != nil {
		return fmt.Errorf("tts: build silence: %w", err)
	}
	if err := s.push(block); err != nil {
		return err
	}
	s.silence = true
	return nil
}

func (s *stream) produced() bool { return s.chunks > 0 }

func (s *stream) result() Result {
	return Result{
		RequestID: s.requestID,
		Outcome:   s.outcome,
		Chunks:    s.chunks,
		Pushes:    s.pushes,
		Bytes:     s.bytes,
		Silence:   s.silence,
		Duration:  time.Since(s.started),
		State:     s.state,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
