package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ListenAddr != ":1967" {
		t.Fatalf("ListenAddr = %q, want :1967", cfg.ListenAddr)
	}
	if !cfg.ChatEcho {
		t.Fatal("ChatEcho should default to true")
	}
}

func TestLoadConfigFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := `listen_addr: "127.0.0.1:7000"
send_queue_size: 8
write_timeout: 3s
chat_echo: false
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := DefaultConfig()
	if err := LoadConfigFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}

	want := DefaultConfig()
	want.ListenAddr = "127.0.0.1:7000"
	want.SendQueueSize = 8
	want.WriteTimeout = 3 * time.Second
	want.ChatEcho = false
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfigYAMLRejectsUnknownKeys(t *testing.T) {
	cfg := DefaultConfig()
	err := ParseConfigYAML([]byte("listen_adr: \":1\"\n"), &cfg)
	if err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestParseConfigYAMLEmpty(t *testing.T) {
	cfg := DefaultConfig()
	if err := ParseConfigYAML(nil, &cfg); err != nil {
		t.Fatalf("ParseConfigYAML(empty): %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Fatalf("empty file changed config (-want +got):\n%s", diff)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RELAYCHAT_LISTEN_ADDR", ":2000")
	t.Setenv("RELAYCHAT_DB_PATH", "/tmp/presence.db")
	t.Setenv("RELAYCHAT_MAX_FRAME_SIZE", "1024")
	t.Setenv("RELAYCHAT_METRICS_LOG_INTERVAL", "0s")
	t.Setenv("RELAYCHAT_CHAT_ECHO", "false")

	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	want := DefaultConfig()
	want.ListenAddr = ":2000"
	want.DBPath = "/tmp/presence.db"
	want.MaxFrameSize = 1024
	want.MetricsLogInterval = 0
	want.ChatEcho = false
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnvRejectsBadValue(t *testing.T) {
	t.Setenv("RELAYCHAT_SEND_QUEUE_SIZE", "lots")

	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err == nil {
		t.Fatal("expected error for non-numeric queue size")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty listen", mutate: func(c *Config) { c.ListenAddr = "" }, wantErr: "listen_addr"},
		{name: "zero queue", mutate: func(c *Config) { c.SendQueueSize = 0 }, wantErr: "send_queue_size"},
		{name: "negative frame", mutate: func(c *Config) { c.MaxFrameSize = -1 }, wantErr: "max_frame_size"},
		{name: "zero write timeout", mutate: func(c *Config) { c.WriteTimeout = 0 }, wantErr: "write_timeout"},
		{name: "negative log interval", mutate: func(c *Config) { c.MetricsLogInterval = -time.Second }, wantErr: "metrics_log_interval"},
		{name: "metrics disabled is fine", mutate: func(c *Config) { c.MetricsAddr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestMarshalConfigYAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = "relaychat.db"

	data, err := MarshalConfigYAML(cfg)
	if err != nil {
		t.Fatalf("MarshalConfigYAML: %v", err)
	}

	var got Config
	if err := ParseConfigYAML(data, &got); err != nil {
		t.Fatalf("ParseConfigYAML: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
