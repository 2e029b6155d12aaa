package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Transport.Default != "local" {
		t.Errorf("default transport = %q", cfg.Transport.Default)
	}
	if cfg.Rdma.WqeCount != 64 {
		t.Errorf("default wqe count = %d", cfg.Rdma.WqeCount)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
framework:
  log_level: debug
transport:
  default: sim
  sim_base_latency: 5ms
timeouts:
  stop_actor: 3s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Framework.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.Framework.LogLevel)
	}
	if cfg.Transport.Default != "sim" {
		t.Errorf("transport = %q", cfg.Transport.Default)
	}
	if cfg.Transport.SimBaseLatency != 5*time.Millisecond {
		t.Errorf("sim base latency = %s", cfg.Transport.SimBaseLatency)
	}
	if cfg.Timeouts.StopActor != 3*time.Second {
		t.Errorf("stop actor timeout = %s", cfg.Timeouts.StopActor)
	}
	// Untouched fields keep their defaults.
	if cfg.Rdma.WqeCount != 64 {
		t.Errorf("wqe count = %d", cfg.Rdma.WqeCount)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("transport:\n  default: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("unknown transport should be rejected")
	}

	if err := os.WriteFile(path, []byte("rdma:\n  wqe_count: 6\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("non-power-of-two wqe count should be rejected")
	}
}
