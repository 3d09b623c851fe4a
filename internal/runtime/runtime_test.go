package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
)

func TestRuntimeServesAndStops(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Bus.Port = -1
	cfg.Journal.RetentionMode = "ephemeral"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := New(cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	select {
	case <-rt.Started():
	case err := <-done:
		t.Fatalf("runtime exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not start")
	}

	res, err := http.Get("http://" + rt.Addr() + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	var body struct {
		Status string          `json:"status"`
		Checks map[string]bool `json:"checks"`
	}
	err = json.NewDecoder(res.Body).Decode(&body)
	res.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.StatusCode != http.StatusOK || body.Status != "ready" || !body.Checks["bus"] {
		t.Fatalf("unexpected readiness %d %+v", res.StatusCode, body)
	}

	metrics, err := http.Get("http://" + rt.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	metrics.Body.Close()
	if metrics.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", metrics.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runtime returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not stop")
	}
}
