package tts

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"gopkg.in/yaml.v3"
)

// Generation identifies a synthesis model family by its configuration marker.
type Generation int

const (
	GenerationUnknown Generation = iota
	GenerationV1
	GenerationV2
	GenerationV3
)

func (g Generation) String() string {
	switch g {
	case GenerationV1:
		return "cosyvoice"
	case GenerationV2:
		return "cosyvoice2"
	case GenerationV3:
		return "cosyvoice3"
	default:
		return "unknown"
	}
}

// markers in detection order, newest generation first.
var markers = []struct {
	file       string
	generation Generation
	sampleRate int
}{
	{"cosyvoice3.yaml", GenerationV3, 24000},
	{"cosyvoice2.yaml", GenerationV2, 24000},
	{"cosyvoice.yaml", GenerationV1, 22050},
}

var ErrModelNotFound = errors.New("tts: model not found")

// ModelInfo describes a model directory.
type ModelInfo struct {
	Dir        string
	Generation Generation
	Marker     string
	SampleRate int
	Prompts    []string
}

// ModelResolver maps a model id to a local directory.
type ModelResolver interface {
	Resolve(model string) (string, error)
}

// DirResolver resolves model ids under a local root. An id may be a path,
// a name under Root, or a repository-style "org/name" whose last element is
// a directory under Root.
type DirResolver struct {
	Root string
}

func (d DirResolver) Resolve(model string) (string, error) {
	if model == "" {
		return "", fmt.Errorf("%w: empty model id", ErrModelNotFound)
	}
	candidates := []string{model}
	if d.Root != "" && !filepath.IsAbs(model) {
		candidates = append(candidates, filepath.Join(d.Root, model))
		if base := filepath.Base(model); base != model {
			candidates = append(candidates, filepath.Join(d.Root, base))
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModelNotFound, model)
}

// DetectModel inspects dir for a generation marker. Without a marker the
// directory is treated as the oldest generation.
func DetectModel(dir string) (ModelInfo, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("%w: %v", ErrModelNotFound, err)
	}
	if !info.IsDir() {
		return ModelInfo{}, fmt.Errorf("%w: %s is not a directory", ErrModelNotFound, dir)
	}

	m := ModelInfo{Dir: dir, Generation: GenerationV1, SampleRate: markers[len(markers)-1].sampleRate}
	for _, marker := range markers {
		path := filepath.Join(dir, marker.file)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		m.Generation = marker.generation
		m.Marker = marker.file
		m.SampleRate = marker.sampleRate
		if rate, ok, err := markerSampleRate(data); err != nil {
			return m, fmt.Errorf("parse %s: %w", marker.file, err)
		} else if ok {
			m.SampleRate = rate
		}
		break
	}
	for _, name := range []string{CrossLingualPrompt, ZeroShotPrompt} {
		p := filepath.Join(dir, "asset", name)
		if fileExists(p) {
			m.Prompts = append(m.Prompts, p)
		}
	}
	return m, nil
}

// markerSampleRate reads the top-level sample_rate key. Model configs use
// custom constructor tags and deep nesting, so the document is walked as a
// node tree instead of decoded into a struct.
func markerSampleRate(data []byte) (int, bool, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, false, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return 0, false, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return 0, false, nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Value != "sample_rate" || value.Kind != yaml.ScalarNode {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(value.Value))
		if err != nil || rate <= 0 {
			return 0, false, fmt.Errorf("invalid sample_rate %q", value.Value)
		}
		return rate, true, nil
	}
	return 0, false, nil
}

// Deps are the collaborators injected into backend construction.
type Deps struct {
	Loader     audio.Loader
	Resolver   ModelResolver
	HTTPClient *http.Client
}

// Build constructs the adapter for cfg. Backend construction failures are
// logged and leave the adapter without a backend, so requests degrade to
// silence instead of failing.
func Build(cfg config.TTSConfig, deps Deps, logger *slog.Logger) (*Adapter, *ModelInfo) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "tts-factory"))
	opts := Options{
		Silence: time.Duration(cfg.SilenceMS) * time.Millisecond,
		Format:  audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels, MimeType: audio.MimePCM},
		Logger:  logger,
	}
	if cfg.PromptPath != "" || cfg.PromptFallbackPath != "" {
		p := DefaultPrompts("", cfg.PromptPath, cfg.PromptFallbackPath)
		opts.Prompts = &p
	}

	backend, info, err := newBackend(cfg, deps)
	if err != nil {
		log.Warn("synthesis backend unavailable", slog.String("mode", cfg.Mode), slogError(err))
		return NewAdapter(nil, opts), info
	}
	if info != nil {
		p := DefaultPrompts(info.Dir, cfg.PromptPath, cfg.PromptFallbackPath)
		opts.Prompts = &p
		log.Info("synthesis model loaded",
			slog.String("dir", info.Dir),
			slog.String("generation", info.Generation.String()),
			slog.Int("sample_rate", info.SampleRate))
	}
	return NewAdapter(backend, opts), info
}

func newBackend(cfg config.TTSConfig, deps Deps) (Backend, *ModelInfo, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockBackend(cfg.SampleRate, cfg.Channels, time.Duration(cfg.ChunkDurationMS)*time.Millisecond), nil, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, nil, errors.New("tts endpoint not configured")
		}
		return NewHTTPBackend(cfg.Endpoint, cfg.Voice, deps.HTTPClient), nil, nil
	case "exec":
		resolver := deps.Resolver
		if resolver == nil {
			resolver = DirResolver{Root: cfg.ModelRoot}
		}
		dir, err := resolver.Resolve(cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		info, err := DetectModel(dir)
		if err != nil {
			return nil, nil, err
		}
		format := audio.Format{SampleRate: info.SampleRate, Channels: cfg.Channels, MimeType: audio.MimePCM}
		backend, err := NewExecBackend(cfg.Command, info.Dir, format, deps.Loader)
		if err != nil {
			return nil, &info, err
		}
		return backend, &info, nil
	default:
		return nil, nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
