package stt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
)

// Build constructs the recognition adapter for cfg. A backend that cannot be
// constructed is logged and left nil; recognition then reports empty results.
func Build(cfg config.STTConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := newBackend(cfg)
	if err != nil {
		logger.Warn("recognition backend unavailable",
			slog.String("component", "stt-factory"), slog.String("mode", cfg.Mode), slogError(err))
		backend = nil
	}
	return NewAdapter(backend, AdapterOptions{
		Language: cfg.Language,
		UseITN:   cfg.UseITN,
		Format:   audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels, MimeType: audio.MimePCM},
		Logger:   logger,
	})
}

func newBackend(cfg config.STTConfig) (Backend, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockBackend(""), nil
	case "exec":
		return NewExecBackend(cfg.Command, resolveModel(cfg.ModelRoot, cfg.Model), cfg.Device)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}

// resolveModel prefers a local copy under root; otherwise the id is handed
// to the process unchanged.
func resolveModel(root, model string) string {
	if root == "" || model == "" || filepath.IsAbs(model) {
		return model
	}
	for _, c := range []string{filepath.Join(root, model), filepath.Join(root, filepath.Base(model))} {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return model
}
