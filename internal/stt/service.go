package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Journal records finished requests.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Service buffers audio frames per session and publishes transcripts.
type Service struct {
	cfg      config.STTConfig
	bus      *bus.Client
	adapter  *Adapter
	journal  Journal
	logger   *slog.Logger
	sessions map[string]*sessionState
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	subs     []*nats.Subscription
	wg       sync.WaitGroup
	ready    bool
}

type sessionState struct {
	Buffer       []byte
	SampleRate   int
	Channels     int
	Language     string
	LastPartial  time.Time
	Inflight     bool
	PendingFinal bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, adapter *Adapter, j Journal, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		adapter:  adapter,
		journal:  j,
		logger:   log.With(slog.String("component", "stt-service")),
		sessions: make(map[string]*sessionState),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.subs = append(s.subs, sub)
	ended, err := s.bus.Conn().Subscribe(protocol.SubjectSessionEnded, s.handleSessionEnded)
	if err != nil {
		_ = sub.Drain()
		return fmt.Errorf("subscribe session end: %w", err)
	}
	s.subs = append(s.subs, ended)
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{SampleRate: frame.SampleRate, Channels: frame.Channels}
		s.sessions[frame.SessionID] = state
	}
	if frame.Language != "" {
		state.Language = frame.Language
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	s.mu.Unlock()

	if s.cfg.PublishInterim && !frame.Final {
		if s.shouldSchedulePartial(frame.SessionID) {
			s.scheduleTranscription(frame.SessionID, false)
		}
	}
	if frame.Final {
		s.scheduleTranscription(frame.SessionID, true)
	}
}

func (s *Service) handleSessionEnded(msg *nats.Msg) {
	var evt protocol.SessionEnded
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		s.logger.Warn("failed to decode session end", slogError(err))
		return
	}
	s.mu.Lock()
	delete(s.sessions, evt.SessionID)
	s.mu.Unlock()
}

func (s *Service) shouldSchedulePartial(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.sessions[sessionID]
	if state == nil || state.Inflight {
		return false
	}
	if state.LastPartial.IsZero() {
		state.LastPartial = time.Now()
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if time.Since(state.LastPartial) >= interval {
		state.LastPartial = time.Now()
		return true
	}
	return false
}

func (s *Service) scheduleTranscription(sessionID string, final bool) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.Inflight {
		if final {
			state.PendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	seg := audio.RawPCM{
		Data:       append([]byte(nil), state.Buffer...),
		SampleRate: state.SampleRate,
		Channels:   state.Channels,
	}
	language := state.Language
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := s.requestContext()
		defer cancel()

		started := time.Now()
		result := s.adapter.Recognize(ctx, seg, language)
		s.publishTranscript(sessionID, result, final)
		if final {
			s.record(ctx, sessionID, result, time.Since(started))
		}

		s.mu.Lock()
		state := s.sessions[sessionID]
		var pendingFinal bool
		if state != nil {
			state.Inflight = false
			pendingFinal = state.PendingFinal
			if !final {
				state.LastPartial = time.Now()
			}
			if final {
				delete(s.sessions, sessionID)
			}
		}
		s.mu.Unlock()

		if pendingFinal && !final {
			s.scheduleTranscription(sessionID, true)
		}
	}()
}

func (s *Service) publishTranscript(sessionID string, result TranscriptResult, final bool) {
	if result.IsEmpty {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if final {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.Transcript{
		SessionID:  sessionID,
		Text:       result.Text,
		Partial:    !final,
		Language:   result.Language,
		Timestamp:  time.Now().UTC(),
		Confidence: result.Confidence,
	}
	if err := s.bus.PublishJSON(subject, msg); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func (s *Service) requestContext() (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeoutMS > 0 {
		return context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond)
	}
	return context.WithCancel(s.ctx)
}

func (s *Service) record(ctx context.Context, sessionID string, result TranscriptResult, elapsed time.Duration) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(context.WithoutCancel(ctx), JournalEntry(sessionID, result, elapsed)); err != nil {
		s.logger.Warn("failed to journal recognition", slogError(err))
	}
}

// JournalEntry converts a finished recognition into a journal row.
func JournalEntry(sessionID string, result TranscriptResult, elapsed time.Duration) journal.Entry {
	outcome := "text"
	if result.IsEmpty {
		outcome = "empty"
	}
	return journal.Entry{
		RequestID:  "stt_req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		SessionID:  sessionID,
		Kind:       journal.KindRecognition,
		Outcome:    outcome,
		DurationMS: elapsed.Milliseconds(),
		Detail:     result.Language,
	}
}
