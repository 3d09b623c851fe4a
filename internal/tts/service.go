package tts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/emitter"
	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Journal records finished requests.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Service answers tts.request messages by streaming synthesized audio back
// onto the bus. Requests for a session are cancelled by tts.cancel and
// session.ended.
type Service struct {
	cfg     config.TTSConfig
	bus     *bus.Client
	adapter *Adapter
	journal Journal
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu       sync.Mutex
	nextID   uint64
	inflight map[string]map[uint64]context.CancelFunc
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, adapter *Adapter, j Journal, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		adapter:  adapter,
		journal:  j,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
		inflight: make(map[string]map[uint64]context.CancelFunc),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectTTSRequest, s.handleRequest},
		{protocol.SubjectTTSCancel, s.handleCancel},
		{protocol.SubjectSessionEnded, s.handleSessionEnded},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			s.unsubscribe()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}

	ctx, cancel := s.requestContext()
	id := s.track(req.SessionID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(req.SessionID, id)
		defer cancel()
		s.synthesize(ctx, req)
	}()
}

func (s *Service) requestContext() (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeoutMS > 0 {
		return context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond)
	}
	return context.WithCancel(s.ctx)
}

func (s *Service) synthesize(ctx context.Context, req protocol.TTSRequest) {
	stream := emitter.NewStream(emitter.NewBusSink(s.bus, req.SessionID, req.Target))
	r := Request{
		SessionID: req.SessionID,
		TraceID:   req.TraceID,
		Text:      req.Text,
		Voice:     req.Voice,
	}
	res, err := s.adapter.Synthesize(ctx, r, stream)
	LogResult(s.logger, r, res, err)

	if s.journal == nil {
		return
	}
	if jerr := s.journal.Record(context.WithoutCancel(ctx), JournalEntry(r, res, err)); jerr != nil {
		s.logger.Warn("failed to journal tts request", slogError(jerr))
	}
}

// LogResult logs a finished synthesis at a level matching how it ended.
func LogResult(logger *slog.Logger, req Request, res Result, err error) {
	attrs := []any{
		slog.String("request_id", res.RequestID),
		slog.String("session_id", req.SessionID),
		slog.String("outcome", res.Outcome),
		slog.Int("pushes", res.Pushes),
		slog.Duration("elapsed", res.Duration),
	}
	switch {
	case err == nil:
		logger.Info("tts request finished", attrs...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info("tts request cancelled", append(attrs, slogError(err))...)
	default:
		logger.Warn("tts request failed", append(attrs, slogError(err))...)
	}
}

// JournalEntry converts a finished synthesis into a journal row.
func JournalEntry(req Request, res Result, err error) journal.Entry {
	entry := journal.Entry{
		RequestID:  res.RequestID,
		SessionID:  req.SessionID,
		TraceID:    req.TraceID,
		Kind:       journal.KindSynthesis,
		Outcome:    res.Outcome,
		Pushes:     res.Pushes,
		Bytes:      res.Bytes,
		DurationMS: res.Duration.Milliseconds(),
	}
	if err != nil {
		entry.Detail = err.Error()
	}
	return entry
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var req protocol.TTSCancel
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts cancel", slogError(err))
		return
	}
	if n := s.cancelSession(req.SessionID); n > 0 {
		s.logger.Info("tts requests cancelled", slog.String("session_id", req.SessionID),
			slog.Int("count", n), slog.String("reason", req.Reason))
	}
}

func (s *Service) handleSessionEnded(msg *nats.Msg) {
	var evt protocol.SessionEnded
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		s.logger.Warn("failed to decode session end", slogError(err))
		return
	}
	s.cancelSession(evt.SessionID)
}

func (s *Service) track(sessionID string, cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	reqs, ok := s.inflight[sessionID]
	if !ok {
		reqs = make(map[uint64]context.CancelFunc)
		s.inflight[sessionID] = reqs
	}
	reqs[s.nextID] = cancel
	return s.nextID
}

func (s *Service) untrack(sessionID string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.inflight[sessionID]
	delete(reqs, id)
	if len(reqs) == 0 {
		delete(s.inflight, sessionID)
	}
}

func (s *Service) cancelSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.inflight[sessionID]
	for _, cancel := range reqs {
		cancel()
	}
	return len(reqs)
}

// InFlight returns the number of requests currently streaming.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, reqs := range s.inflight {
		n += len(reqs)
	}
	return n
}
