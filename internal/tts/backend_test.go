package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

func collect(t *testing.T, b Backend, req InferenceRequest) ([]Chunk, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	chunks, errs := b.Inference(ctx, req)
	var out []Chunk
	for c := range chunks {
		out = append(out, c)
	}
	return out, <-errs
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "synth.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// "AAAAAAAAgD8=" is two float32 samples: 0.0 and 1.0.
const twoSamples = "AAAAAAAAgD8="

func TestExecBackendStreamsThenReportsMaxTrials(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo '{"audio_base64":"`+twoSamples+`"}'
echo '{"audio_base64":"`+twoSamples+`"}'
echo '{"error":"sampling reaches max_trials 100 and still get eos","code":"max_trials"}'
`)
	b, err := NewExecBackend("sh "+script, "", pcm22k, nil)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	chunks, err := collect(t, b, InferenceRequest{Text: "สวัสดี", Stream: true})
	if !errors.Is(err, ErrSamplingExhausted) {
		t.Fatalf("expected ErrSamplingExhausted, got %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Sequence != 1 || len(chunks[0].Samples) != 1 || chunks[0].Samples[0][1] != 1.0 {
		t.Fatalf("unexpected chunk: %+v", chunks[1])
	}
}

func TestExecBackendSendsPromptAudio(t *testing.T) {
	dir := t.TempDir()
	prompt := filepath.Join(dir, "prompt.wav")
	if err := audio.WriteWAVFile(prompt, audio.Int16ToPCM([]int16{0, 1000, -1000, 0}), 16000, 1); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	captured := filepath.Join(dir, "request.json")
	script := writeScript(t, `cat >"`+captured+`"
echo '{"audio_base64":"`+twoSamples+`"}'
`)
	b, err := NewExecBackend("sh "+script, "/models/v1", pcm22k, nil)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if _, err := collect(t, b, InferenceRequest{Text: "hello", PromptPath: prompt, Stream: true}); err != nil {
		t.Fatalf("inference: %v", err)
	}

	data, err := os.ReadFile(captured)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	var req execRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Text != "hello" || req.ModelDir != "/models/v1" || req.PromptPath != prompt || !req.Stream {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.PromptSampleRate != 16000 || req.PromptPCMBase64 == "" {
		t.Fatalf("prompt audio not attached: %+v", req)
	}
}

func TestExecBackendDownmixesStereoPrompt(t *testing.T) {
	dir := t.TempDir()
	prompt := filepath.Join(dir, "stereo.wav")
	// Two frames: (1000, 3000) and (-2000, 0).
	if err := audio.WriteWAVFile(prompt, audio.Int16ToPCM([]int16{1000, 3000, -2000, 0}), 16000, 2); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	captured := filepath.Join(dir, "request.json")
	script := writeScript(t, `cat >"`+captured+`"
echo '{"audio_base64":"`+twoSamples+`"}'
`)
	b, err := NewExecBackend("sh "+script, "", pcm22k, nil)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if _, err := collect(t, b, InferenceRequest{Text: "hello", PromptPath: prompt}); err != nil {
		t.Fatalf("inference: %v", err)
	}

	data, err := os.ReadFile(captured)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	var req execRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	pcm, err := base64.StdEncoding.DecodeString(req.PromptPCMBase64)
	if err != nil {
		t.Fatalf("decode prompt: %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("expected 2 mono samples, got %d bytes", len(pcm))
	}
	samples, err := audio.PCM16ToFloat(pcm)
	if err != nil {
		t.Fatalf("prompt samples: %v", err)
	}
	if samples[0] <= 0 || samples[1] >= 0 {
		t.Fatalf("expected averaged frames, got %v", samples)
	}
}

func TestExecBackendProcessFailure(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "RuntimeError: weights missing" >&2
exit 3
`)
	b, err := NewExecBackend("sh "+script, "", pcm22k, nil)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	chunks, err := collect(t, b, InferenceRequest{Text: "x"})
	if err == nil || errors.Is(err, ErrSamplingExhausted) || len(chunks) != 0 {
		t.Fatalf("expected plain process failure, got %v with %d chunks", err, len(chunks))
	}
}

func TestExecBackendRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecBackend("   ", "", pcm22k, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeFloat32Interleaved(t *testing.T) {
	planes, err := decodeFloat32(twoSamples, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(planes) != 2 || planes[0][0] != 0 || planes[1][0] != 1 {
		t.Fatalf("unexpected planes: %v", planes)
	}
	if _, err := decodeFloat32("AAAA", 1); err == nil {
		t.Fatal("expected misaligned payload error")
	}
}

func TestHTTPBackendStreamsMPEG(t *testing.T) {
	payload := bytes.Repeat([]byte{0xFF, 0xF3, 0x14, 0xC4}, 3000)
	var got hostedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", audio.MimeMPEG)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, "", srv.Client())
	if f := b.Format(); f.MimeType != audio.MimeMPEG || f.SampleRate != 24000 {
		t.Fatalf("unexpected format %+v", f)
	}
	chunks, err := collect(t, b, InferenceRequest{Text: "สวัสดีครับ"})
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	var joined []byte
	for _, c := range chunks {
		joined = append(joined, c.Encoded...)
	}
	if !bytes.Equal(joined, payload) {
		t.Fatalf("stream altered: got %d bytes, want %d", len(joined), len(payload))
	}
	if got.Voice != DefaultVoice || got.Text != "สวัสดีครับ" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestHTTPBackendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusBadRequest)
	}))
	defer srv.Close()
	chunks, err := collect(t, NewHTTPBackend(srv.URL, "xx-XX-Nobody", srv.Client()), InferenceRequest{Text: "x"})
	if err == nil || len(chunks) != 0 {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestHTTPBackendStreamOutlivesHeaderTimeout(t *testing.T) {
	frame := []byte{0xFF, 0xF3, 0x14, 0xC4}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", audio.MimeMPEG)
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			_, _ = w.Write(frame)
			flusher.Flush()
			time.Sleep(50 * time.Millisecond)
		}
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, "", newHostedClient(200*time.Millisecond))
	em := newCountingEmitter()
	res, err := newAdapter(b, Options{Format: b.Format()}).Synthesize(context.Background(), Request{Text: "สวัสดีครับ"}, em)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeAudio {
		t.Fatalf("expected audio outcome, got %s", res.Outcome)
	}
	if got := em.rec.Bytes(); !bytes.Equal(got, bytes.Repeat(frame, 10)) {
		t.Fatalf("stream truncated: got %d bytes", len(got))
	}
}

func TestDefaultHostedClientHasNoOverallTimeout(t *testing.T) {
	b := NewHTTPBackend("http://tts.local", "", nil).(*hostedBackend)
	if b.client.Timeout != 0 {
		t.Fatalf("expected no client timeout, got %s", b.client.Timeout)
	}
	transport, ok := b.client.Transport.(*http.Transport)
	if !ok || transport.ResponseHeaderTimeout != hostedHeaderTimeout {
		t.Fatalf("expected header timeout %s", hostedHeaderTimeout)
	}
}

func TestMockBackendOneChunkPerWord(t *testing.T) {
	b := NewMockBackend(16000, 1, 100*time.Millisecond)
	chunks, err := collect(t, b, InferenceRequest{Text: " one two  three "})
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	if len(chunks) != 3 || len(chunks[0].Samples[0]) != 1600 {
		t.Fatalf("unexpected chunks: %d", len(chunks))
	}
}
