// Package capability announces what this voice node can do and tracks the
// voice nodes it hears from on the control bus.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Control subjects.
const (
	SubjectAnnounce        = "ctrl.node.announce"
	SubjectHeartbeatPrefix = "ctrl.node.heartbeat"
)

// Capability names.
const (
	Synthesis   = "tts"
	Recognition = "stt"
)

type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SynthesisCapability describes a synthesis stream format.
func SynthesisCapability(f audio.Format, available bool) Capability {
	return Capability{Name: Synthesis, Attributes: map[string]string{
		"sample_rate": strconv.Itoa(f.SampleRate),
		"channels":    strconv.Itoa(f.Channels),
		"mime_type":   f.MimeType,
		"available":   strconv.FormatBool(available),
	}}
}

// RecognitionCapability describes the recognizer's default language.
func RecognitionCapability(language string, available bool) Capability {
	return Capability{Name: Recognition, Attributes: map[string]string{
		"language":  language,
		"available": strconv.FormatBool(available),
	}}
}

type Registry struct {
	cfg   config.NodeConfig
	local []Capability
	log   *slog.Logger
	bus   *bus.Client
	mu    sync.RWMutex
	nodes map[string]*NodeInfo
	wg    sync.WaitGroup

	cancel context.CancelFunc
	subs   []*nats.Subscription
	meter  metric.Meter
}

// NewRegistry subscribes to the control subjects, announces local and starts
// the heartbeat loop.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, local []Capability, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		local:  local,
		log:    log.With(slog.String("component", "capability-registry")),
		bus:    busClient,
		nodes:  make(map[string]*NodeInfo),
		meter:  otel.Meter("github.com/loqalabs/loqa-voice/internal/capability"),
		cancel: cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.wg.Add(1)
	go r.run(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.wg.Wait()
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(SubjectAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(SubjectHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		_ = announceSub.Drain()
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

// run publishes heartbeats and marks silent nodes unhealthy.
func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		case <-health.C:
			r.evaluateHealth(time.Now())
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: r.local,
		Timestamp:    time.Now().UTC(),
	}
	if err := r.bus.PublishJSON(SubjectAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{NodeID: r.cfg.ID, Timestamp: time.Now().UTC()}
	return r.bus.PublishJSON(SubjectHeartbeatPrefix+"."+r.cfg.ID, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.updateNode(hb.NodeID, "", nil, hb.Timestamp)
}

func (r *Registry) updateNode(nodeID, role string, capabilities []Capability, timestamp time.Time) {
	if nodeID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(capabilities) > 0 {
		node.Capabilities = capabilities
	}
	node.LastSeen = timestamp
	node.Healthy = true
}

func (r *Registry) evaluateHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this node still hears its own heartbeat.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		n := *node
		if filter == nil || filter(n) {
			results = append(results, n)
		}
	}
	return results
}

func WithCapability(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

func (r *Registry) initMetrics() error {
	nodes, err := r.meter.Int64ObservableGauge("loqa.voice.nodes", metric.WithDescription("Known voice nodes"))
	if err != nil {
		return err
	}
	healthy, err := r.meter.Int64ObservableGauge("loqa.voice.nodes_healthy", metric.WithDescription("Voice nodes with a recent heartbeat"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		total, up := r.snapshotCounts()
		obs.ObserveInt64(nodes, total)
		obs.ObserveInt64(healthy, up)
		return nil
	}, nodes, healthy)
	return err
}

func (r *Registry) snapshotCounts() (total, healthy int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, node := range r.nodes {
		total++
		if node.Healthy {
			healthy++
		}
	}
	return total, healthy
}
