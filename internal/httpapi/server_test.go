package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/emitter"
	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
)

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memJournal) Record(_ context.Context, e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) ListSession(_ context.Context, sessionID string, _ int) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []journal.Entry
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var pcm22k = audio.Format{SampleRate: 22050, Channels: 1, MimeType: audio.MimePCM}

func newTestServer(t *testing.T, backend tts.Backend, j *memJournal) *httptest.Server {
	t.Helper()
	deps := Deps{
		Synthesizer: tts.NewAdapter(backend, tts.Options{Format: pcm22k, Silence: 500 * time.Millisecond, Logger: newLogger()}),
		Recognizer:  stt.NewAdapter(stt.NewMockBackend("hello there"), stt.AdapterOptions{Logger: newLogger()}),
		Checks:      map[string]func() bool{"bus": func() bool { return true }},
		Logger:      newLogger(),
	}
	if j != nil {
		deps.Journal = j
	}
	srv := httptest.NewServer(New(config.HTTPConfig{}, deps).Router())
	t.Cleanup(srv.Close)
	return srv
}

func speech(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(float64(i)/8))
	}
	return out
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return res
}

func TestHealthAndReadiness(t *testing.T) {
	deps := Deps{
		Checks: map[string]func() bool{"bus": func() bool { return false }},
		Logger: newLogger(),
	}
	srv := httptest.NewServer(New(config.HTTPConfig{}, deps).Router())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", res.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "not_ready" {
		t.Fatalf("unexpected readiness body %v", body)
	}
}

func TestSynthesizeStreamsAudio(t *testing.T) {
	j := &memJournal{}
	srv := newTestServer(t, tts.NewMockBackend(22050, 1, 100*time.Millisecond), j)

	res := postJSON(t, srv.URL+"/v1/tts/synthesize", map[string]string{"text": "hello world", "session_id": "s1"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if !strings.HasPrefix(res.Header.Get(emitter.HeaderRequestID), "tts_req_") {
		t.Fatalf("unexpected request id %q", res.Header.Get(emitter.HeaderRequestID))
	}
	if res.Header.Get(emitter.HeaderSampleRate) != "22050" || res.Header.Get(emitter.HeaderChannels) != "1" {
		t.Fatalf("unexpected format headers %v", res.Header)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(data) != 2*2205*2 {
		t.Fatalf("expected two 100 ms chunks, got %d bytes", len(data))
	}
	if res.Trailer.Get(emitter.HeaderOutcome) != tts.OutcomeAudio {
		t.Fatalf("unexpected outcome trailer %v", res.Trailer)
	}

	list, err := http.Get(srv.URL + "/v1/sessions/s1/requests")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer list.Body.Close()
	var listed struct {
		Requests []journal.Entry `json:"requests"`
	}
	if err := json.NewDecoder(list.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Requests) != 1 || listed.Requests[0].Outcome != tts.OutcomeAudio || listed.Requests[0].Pushes != 2 {
		t.Fatalf("unexpected journal listing %+v", listed.Requests)
	}
}

func TestSynthesizeWithoutBackendReturnsSilence(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	res := postJSON(t, srv.URL+"/v1/tts/synthesize", map[string]string{"text": "test"})
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(data) != 22050 {
		t.Fatalf("expected 500 ms of silence, got %d bytes", len(data))
	}
	for _, b := range data {
		if b != 0 {
			t.Fatal("expected silence")
		}
	}
	if res.Trailer.Get(emitter.HeaderOutcome) != tts.OutcomeBackendUnavailable {
		t.Fatalf("unexpected outcome trailer %v", res.Trailer)
	}
}

func TestSynthesizeRejectsMissingText(t *testing.T) {
	srv := newTestServer(t, tts.NewMockBackend(22050, 1, 0), nil)
	res := postJSON(t, srv.URL+"/v1/tts/synthesize", map[string]string{"text": "  "})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestRecognizeRawPCM(t *testing.T) {
	j := &memJournal{}
	srv := newTestServer(t, nil, j)
	body := bytes.NewReader(audio.Int16ToPCM(speech(16000)))
	res, err := http.Post(srv.URL+"/v1/stt/recognize?sample_rate=16000&channels=1&language=en&session_id=s2", "application/octet-stream", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	var result stt.TranscriptResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.IsEmpty || result.Text != "hello there" || result.Language != "en" || result.Confidence != 1.0 {
		t.Fatalf("unexpected result %+v", result)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) != 1 || j.entries[0].Kind != journal.KindRecognition || j.entries[0].SessionID != "s2" {
		t.Fatalf("unexpected journal %+v", j.entries)
	}
}

func TestRecognizeWAVBody(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	path := filepath.Join(t.TempDir(), "speech.wav")
	if err := audio.WriteWAVFile(path, audio.Int16ToPCM(speech(8000)), 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	res, err := http.Post(srv.URL+"/v1/stt/recognize", "audio/wav", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	var result stt.TranscriptResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.IsEmpty || result.Text != "hello there" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRecognizeBadRequests(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	cases := []struct {
		name  string
		query string
		body  []byte
	}{
		{"empty body", "", nil},
		{"bad sample rate", "?sample_rate=fast", []byte{0, 0}},
		{"negative channels", "?channels=-1", []byte{0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := http.Post(srv.URL+"/v1/stt/recognize"+tc.query, "application/octet-stream", bytes.NewReader(tc.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			res.Body.Close()
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", res.StatusCode)
			}
		})
	}
}

func TestSynthesizeWebSocket(t *testing.T) {
	srv := newTestServer(t, tts.NewMockBackend(22050, 1, 100*time.Millisecond), nil)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/tts/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(map[string]string{"text": "one two three"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var start emitter.WSMessage
	if err := conn.ReadJSON(&start); err != nil {
		t.Fatalf("read start: %v", err)
	}
	if start.Type != "start" || start.SampleRate != 22050 || start.MimeType != audio.MimePCM {
		t.Fatalf("unexpected start %+v", start)
	}
	frames := 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if kind == websocket.BinaryMessage {
			frames++
			continue
		}
		var done emitter.WSMessage
		if err := json.Unmarshal(data, &done); err != nil {
			t.Fatalf("decode done: %v", err)
		}
		if done.Type != "done" || done.Outcome != tts.OutcomeAudio || done.Pushes != 3 {
			t.Fatalf("unexpected done %+v", done)
		}
		break
	}
	if frames != 3 {
		t.Fatalf("expected 3 audio frames, got %d", frames)
	}

	if err := conn.WriteJSON(map[string]string{"text": ""}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var msg emitter.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if msg.Type != "error" {
		t.Fatalf("expected error message, got %+v", msg)
	}
}

func TestRoutesWithoutAdapters(t *testing.T) {
	srv := httptest.NewServer(New(config.HTTPConfig{}, Deps{Logger: newLogger()}).Router())
	defer srv.Close()
	res := postJSON(t, srv.URL+"/v1/tts/synthesize", map[string]string{"text": "hi"})
	res.Body.Close()
	if res.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", res.StatusCode)
	}
}
