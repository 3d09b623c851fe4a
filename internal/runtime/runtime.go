package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/capability"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/httpapi"
	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	telemetry  *telemetry
	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	journal    *journal.Store
	ttsService *tts.Service
	sttService *stt.Service
	registry   *capability.Registry
	addr       atomic.Value
	ready      atomic.Bool
	started    chan struct{}
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		started: make(chan struct{}),
	}
}

// Start brings up every component and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.shutdown()

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			return err
		}
	}

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	r.journal = store

	synth, _ := tts.Build(r.cfg.TTS, tts.Deps{Loader: audio.WAVLoader{}}, r.logger)
	recog := stt.Build(r.cfg.STT, r.logger)

	if r.bus != nil {
		r.ttsService = tts.NewService(ctx, r.cfg.TTS, r.bus, synth, store, r.logger)
		if err := r.ttsService.Start(); err != nil {
			return fmt.Errorf("failed to start tts service: %w", err)
		}
		r.sttService = stt.NewService(ctx, r.cfg.STT, r.bus, recog, store, r.logger)
		if err := r.sttService.Start(); err != nil {
			return fmt.Errorf("failed to start stt service: %w", err)
		}

		var local []capability.Capability
		if r.cfg.TTS.Enabled {
			local = append(local, capability.SynthesisCapability(synth.Format(), synth.Available()))
		}
		if r.cfg.STT.Enabled {
			local = append(local, capability.RecognitionCapability(r.cfg.STT.Language, recog.Available()))
		}
		r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, local, r.bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start capability registry: %w", err)
		}
	}

	deps := httpapi.Deps{
		Journal: store,
		Metrics: tel.metrics,
		Checks:  r.checks(),
		Logger:  r.logger,
	}
	if r.cfg.TTS.Enabled {
		deps.Synthesizer = synth
	}
	if r.cfg.STT.Enabled {
		deps.Recognizer = recog
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.addr.Store(listener.Addr().String())
	r.httpServer = &http.Server{
		Handler:           httpapi.New(r.cfg.HTTP, deps).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	close(r.started)
	r.logger.Info("runtime started", slog.String("addr", listener.Addr().String()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return nil
}

// Started is closed once the HTTP listener is serving.
func (r *Runtime) Started() <-chan struct{} { return r.started }

// Addr returns the bound HTTP address once started.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

func (r *Runtime) startBus(ctx context.Context) error {
	srv, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.nats = srv
	busCfg := r.cfg.Bus
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client
	return nil
}

func (r *Runtime) checks() map[string]func() bool {
	checks := map[string]func() bool{
		"runtime": r.ready.Load,
	}
	if r.bus != nil {
		checks["bus"] = r.bus.Healthy
		checks["tts"] = r.ttsService.Healthy
		checks["stt"] = r.sttService.Healthy
		checks["node"] = r.registry.Healthy
	}
	return checks
}

// shutdown stops components in reverse start order. It tolerates a
// partially started runtime.
func (r *Runtime) shutdown() {
	r.ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	if r.registry != nil {
		r.registry.Close()
	}
	if r.ttsService != nil {
		r.ttsService.Close()
	}
	if r.sttService != nil {
		r.sttService.Close()
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Error("journal close error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.telemetry != nil {
		if err := r.telemetry.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
