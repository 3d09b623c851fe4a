package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.SampleRate != 22050 {
		t.Fatalf("expected 22050 Hz synthesis default, got %d", cfg.TTS.SampleRate)
	}
	if cfg.TTS.SilenceMS != 1000 {
		t.Fatalf("expected 1000ms silence default, got %d", cfg.TTS.SilenceMS)
	}
	if cfg.STT.SampleRate != 16000 || cfg.STT.Language != "auto" {
		t.Fatalf("unexpected stt defaults: %+v", cfg.STT)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-voice.yaml")
	body := `
runtime_name: test-voice
tts:
  mode: exec
  command: "python3 synth.py --model 'pretrained models/v1'"
  silence_ms: 250
stt:
  language: th
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "test-voice" {
		t.Fatalf("expected runtime name from file, got %s", cfg.RuntimeName)
	}
	if cfg.TTS.Mode != "exec" || cfg.TTS.SilenceMS != 250 {
		t.Fatalf("unexpected tts config: %+v", cfg.TTS)
	}
	if cfg.TTS.SampleRate != 22050 {
		t.Fatalf("expected unset keys to keep defaults, got %d", cfg.TTS.SampleRate)
	}
	if cfg.STT.Language != "th" {
		t.Fatalf("expected stt language th, got %s", cfg.STT.Language)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_JOURNAL_PATH", "./tmp.db")
	t.Setenv("LOQA_JOURNAL_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_JOURNAL_RETENTION_DAYS", "7")
	t.Setenv("LOQA_JOURNAL_MAX_REQUESTS", "123")
	t.Setenv("LOQA_TTS_MODE", "http")
	t.Setenv("LOQA_TTS_ENDPOINT", "http://tts.local/v1/speak")
	t.Setenv("LOQA_TTS_SILENCE_MS", "400")
	t.Setenv("LOQA_STT_USE_ITN", "false")
	t.Setenv("LOQA_STT_DEVICE", "cuda:0")
	t.Setenv("LOQA_STT_REQUEST_TIMEOUT_MS", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Journal.Path != "./tmp.db" || cfg.Journal.RetentionMode != "persistent" {
		t.Fatalf("expected journal overrides, got %+v", cfg.Journal)
	}
	if cfg.Journal.RetentionDays != 7 || cfg.Journal.MaxRequests != 123 {
		t.Fatalf("expected journal retention overrides, got %+v", cfg.Journal)
	}
	if cfg.TTS.Mode != "http" || cfg.TTS.Endpoint != "http://tts.local/v1/speak" || cfg.TTS.SilenceMS != 400 {
		t.Fatalf("expected tts overrides, got %+v", cfg.TTS)
	}
	if cfg.STT.UseITN || cfg.STT.Device != "cuda:0" || cfg.STT.RequestTimeoutMS != 0 {
		t.Fatalf("expected stt overrides, got %+v", cfg.STT)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cases := map[string]string{
		"LOQA_TTS_MODE":               "cosy",
		"LOQA_STT_MODE":               "cloud",
		"LOQA_JOURNAL_RETENTION_MODE": "forever",
		"LOQA_TELEMETRY_LOG_LEVEL":    "trace",
		"LOQA_STT_REQUEST_TIMEOUT_MS": "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected validation error for %s=%s", key, value)
			}
		})
	}
}

func TestValidateExecNeedsCommand(t *testing.T) {
	t.Setenv("LOQA_TTS_MODE", "exec")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "tts.command") {
		t.Fatalf("expected tts.command error, got %v", err)
	}
}

func TestNodeOverridesAndValidation(t *testing.T) {
	t.Setenv("LOQA_NODE_ID", "voice-kitchen")
	t.Setenv("LOQA_NODE_HEARTBEAT_INTERVAL_MS", "500")
	t.Setenv("LOQA_NODE_HEARTBEAT_TIMEOUT_MS", "1500")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Node.ID != "voice-kitchen" || cfg.Node.Role != "voice" {
		t.Fatalf("unexpected node config %+v", cfg.Node)
	}
	if cfg.Node.HeartbeatInterval != 500 || cfg.Node.HeartbeatTimeout != 1500 {
		t.Fatalf("expected heartbeat overrides, got %+v", cfg.Node)
	}

	t.Setenv("LOQA_NODE_HEARTBEAT_TIMEOUT_MS", "100")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "heartbeat") {
		t.Fatalf("expected heartbeat validation error, got %v", err)
	}
}
