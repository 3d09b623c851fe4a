package stt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/nats-io/nats.go"
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

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestServicePublishesFinalTranscript(t *testing.T) {
	client := startBus(t)
	transcripts := make(chan *nats.Msg, 8)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectTranscriptFinal, transcripts)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	cfg := config.Default().STT
	j := &memJournal{}
	adapter := NewAdapter(NewMockBackend("สวัสดีครับ"), AdapterOptions{Logger: newLogger()})
	svc := NewService(context.Background(), cfg, client, adapter, j, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	frames := []protocol.AudioFrame{
		{SessionID: "room-1", Sequence: 0, SampleRate: 16000, Channels: 1, PCM: audio.Int16ToPCM(speech(800)), Language: "th"},
		{SessionID: "room-1", Sequence: 1, SampleRate: 16000, Channels: 1, PCM: audio.Int16ToPCM(speech(800)), Final: true},
	}
	for _, f := range frames {
		if err := client.PublishJSON(protocol.SubjectAudioFramePrefix+".room-1", f); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case msg := <-transcripts:
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if tr.Text != "สวัสดีครับ" || tr.Partial || tr.Language != "th" || tr.Confidence != 1.0 {
			t.Fatalf("unexpected transcript %+v", tr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}

	svc.Close()
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) != 1 || j.entries[0].Outcome != "text" || j.entries[0].Kind != journal.KindRecognition {
		t.Fatalf("unexpected journal %+v", j.entries)
	}
}

func TestServiceSkipsSilentSegments(t *testing.T) {
	client := startBus(t)
	transcripts := make(chan *nats.Msg, 8)
	sub, err := client.Conn().ChanSubscribe("stt.text.>", transcripts)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	j := &memJournal{}
	adapter := NewAdapter(NewMockBackend("ignored"), AdapterOptions{Logger: newLogger()})
	svc := NewService(context.Background(), config.Default().STT, client, adapter, j, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	frame := protocol.AudioFrame{SessionID: "room-2", SampleRate: 16000, Channels: 1, PCM: make([]byte, 32000), Final: true}
	if err := client.PublishJSON(protocol.SubjectAudioFramePrefix+".room-2", frame); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		j.mu.Lock()
		n := len(j.entries)
		j.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for recognition")
		}
		time.Sleep(10 * time.Millisecond)
	}
	svc.Close()

	select {
	case msg := <-transcripts:
		t.Fatalf("silence should not publish a transcript, got %s", msg.Data)
	default:
	}
	if j.entries[0].Outcome != "empty" {
		t.Fatalf("unexpected journal %+v", j.entries)
	}
}

type blockingBackend struct{}

func (blockingBackend) Generate(ctx context.Context, _ [][]float32, _ GenerateOptions) ([]Hypothesis, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestServiceRequestTimeoutFromConfig(t *testing.T) {
	client := startBus(t)
	cfg := config.Default().STT
	cfg.RequestTimeoutMS = 100
	j := &memJournal{}
	adapter := NewAdapter(blockingBackend{}, AdapterOptions{Logger: newLogger()})
	svc := NewService(context.Background(), cfg, client, adapter, j, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	frame := protocol.AudioFrame{SessionID: "room-3", SampleRate: 16000, Channels: 1, PCM: audio.Int16ToPCM(speech(1600)), Final: true}
	if err := client.PublishJSON(protocol.SubjectAudioFramePrefix+".room-3", frame); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		j.mu.Lock()
		n := len(j.entries)
		j.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recognition was not bounded by request_timeout_ms")
		}
		time.Sleep(10 * time.Millisecond)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.entries[0].Outcome != "empty" || j.entries[0].DurationMS > 4000 {
		t.Fatalf("unexpected journal %+v", j.entries)
	}
}
