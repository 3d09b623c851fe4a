package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/emitter"
	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
)

const (
	maxJSONBody  = 1 << 20
	maxAudioBody = 64 << 20
	wsWriteWait  = 10 * time.Second
)

type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.Request, em emitter.Emitter) (tts.Result, error)
}

type Recognizer interface {
	Recognize(ctx context.Context, seg audio.Segment, language string) stt.TranscriptResult
}

type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
	ListSession(ctx context.Context, sessionID string, limit int) ([]journal.Entry, error)
}

// Deps are the collaborators served over HTTP. Nil Synthesizer or
// Recognizer disables the matching routes with 501.
type Deps struct {
	Synthesizer Synthesizer
	Recognizer  Recognizer
	Journal     Journal
	// Metrics serves /metrics. Nil falls back to the default registry.
	Metrics http.Handler
	// Checks are evaluated by /readyz.
	Checks map[string]func() bool
	Logger *slog.Logger
}

type Server struct {
	cfg      config.HTTPConfig
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "httpapi")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.deps.Metrics)

	r.Post("/v1/tts/synthesize", s.handleSynthesize)
	r.Get("/v1/tts/ws", s.handleSynthesizeWS)
	r.Post("/v1/stt/recognize", s.handleRecognize)
	r.Get("/v1/sessions/{id}/requests", s.handleListSession)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"tts":       s.deps.Synthesizer != nil,
		"stt":       s.deps.Recognizer != nil,
		"journaled": s.deps.Journal != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]bool, len(s.deps.Checks))
	ready := true
	for name, check := range s.deps.Checks {
		ok := check()
		checks[name] = ok
		ready = ready && ok
	}
	if !ready {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": checks})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

type synthesizeRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	PromptPath string `json:"prompt_path,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

func (r synthesizeRequest) toRequest() tts.Request {
	return tts.Request{
		SessionID:  r.SessionID,
		TraceID:    r.TraceID,
		Text:       r.Text,
		Voice:      r.Voice,
		PromptPath: r.PromptPath,
	}
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.deps.Synthesizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "synthesis not configured")
		return
	}
	var body synthesizeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}

	stream := emitter.NewStream(emitter.NewHTTPSink(w))
	req := body.toRequest()
	res, err := s.deps.Synthesizer.Synthesize(r.Context(), req, stream)
	tts.LogResult(s.logger, req, res, err)
	s.journal(r.Context(), tts.JournalEntry(req, res, err))
	if err != nil && !stream.State().Initialized {
		respondError(w, http.StatusInternalServerError, "synthesis_failed", err.Error())
	}
}

type wsRequest struct {
	Type string `json:"type,omitempty"`
	synthesizeRequest
}

// handleSynthesizeWS serves sequential synthesis requests on one socket.
// A {"type":"cancel"} message stops the request currently streaming.
func (s *Server) handleSynthesizeWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Synthesizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "synthesis not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxJSONBody)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var mu sync.Mutex
	var current context.CancelFunc
	requests := make(chan wsRequest, 16)
	go func() {
		defer close(requests)
		defer cancel()
		for {
			var msg wsRequest
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read failed", slogError(err))
				}
				return
			}
			if msg.Type == "cancel" {
				mu.Lock()
				if current != nil {
					current()
				}
				mu.Unlock()
				continue
			}
			select {
			case requests <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range requests {
		if strings.TrimSpace(msg.Text) == "" {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(emitter.WSMessage{Type: "error", Error: "text is required"}); err != nil {
				return
			}
			continue
		}
		reqCtx, reqCancel := context.WithCancel(ctx)
		mu.Lock()
		current = reqCancel
		mu.Unlock()

		req := msg.toRequest()
		stream := emitter.NewStream(emitter.NewWSSink(conn, wsWriteWait))
		res, err := s.deps.Synthesizer.Synthesize(reqCtx, req, stream)
		tts.LogResult(s.logger, req, res, err)
		s.journal(ctx, tts.JournalEntry(req, res, err))

		mu.Lock()
		current = nil
		mu.Unlock()
		reqCancel()
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recognizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "recognition not configured")
		return
	}
	query := r.URL.Query()
	sampleRate, err := queryInt(query, "sample_rate")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_sample_rate", err.Error())
		return
	}
	channels, err := queryInt(query, "channels")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_channels", err.Error())
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "invalid_body", err.Error())
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty_body", "audio body is required")
		return
	}

	started := time.Now()
	seg := audio.RawPCM{Data: data, SampleRate: sampleRate, Channels: channels}
	result := s.deps.Recognizer.Recognize(r.Context(), seg, strings.TrimSpace(query.Get("language")))
	s.journal(r.Context(), stt.JournalEntry(query.Get("session_id"), result, time.Since(started)))
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "journal not configured")
		return
	}
	limit, err := queryInt(r.URL.Query(), "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	entries, err := s.deps.Journal.ListSession(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_error", err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": entries})
}

func (s *Server) journal(ctx context.Context, e journal.Entry) {
	if s.deps.Journal == nil {
		return
	}
	if err := s.deps.Journal.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to journal request", slog.String("request_id", e.RequestID), slogError(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func queryInt(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return v, nil
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
