package model

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()

	if cfg.Engine.Command != "python3" {
		t.Errorf("Engine.Command = %q, want python3", cfg.Engine.Command)
	}
	if cfg.Engine.ReadyTimeoutSec != 15 {
		t.Errorf("Engine.ReadyTimeoutSec = %d, want 15", cfg.Engine.ReadyTimeoutSec)
	}
	if cfg.Engine.StopGraceMs != 500 {
		t.Errorf("Engine.StopGraceMs = %d, want 500", cfg.Engine.StopGraceMs)
	}
	if cfg.Reconcile.PollIntervalSec != 2 {
		t.Errorf("Reconcile.PollIntervalSec = %d, want 2", cfg.Reconcile.PollIntervalSec)
	}
	if cfg.Recording.HistorySize != 5 {
		t.Errorf("Recording.HistorySize = %d, want 5", cfg.Recording.HistorySize)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := Config{}
	cfg.Engine.Command = "/opt/engine/bin/engine"
	cfg.Engine.ReadyTimeoutSec = 60
	cfg.Reconcile.PollIntervalSec = 5
	cfg.Normalize()

	if cfg.Engine.Command != "/opt/engine/bin/engine" {
		t.Errorf("Engine.Command = %q, want explicit value kept", cfg.Engine.Command)
	}
	if len(cfg.Engine.Args) != 0 {
		t.Errorf("Engine.Args = %v, want none for explicit command", cfg.Engine.Args)
	}
	if cfg.Engine.ReadyTimeoutSec != 60 {
		t.Errorf("Engine.ReadyTimeoutSec = %d, want 60", cfg.Engine.ReadyTimeoutSec)
	}
	if cfg.Reconcile.PollIntervalSec != 5 {
		t.Errorf("Reconcile.PollIntervalSec = %d, want 5", cfg.Reconcile.PollIntervalSec)
	}
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	in := DefaultConfig()
	in.Recording.AutoImport = true
	in.Recording.ImportURL = "http://127.0.0.1:8765/import"

	raw, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Config
	if err := yaml.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Engine.Command != in.Engine.Command {
		t.Errorf("Engine.Command = %q, want %q", out.Engine.Command, in.Engine.Command)
	}
	if !out.Recording.AutoImport {
		t.Error("Recording.AutoImport lost in round trip")
	}
	if out.Recording.ImportURL != in.Recording.ImportURL {
		t.Errorf("Recording.ImportURL = %q, want %q", out.Recording.ImportURL, in.Recording.ImportURL)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BATON_ENGINE_COMMAND", "/usr/local/bin/engine")
	t.Setenv("BATON_IMPORT_URL", "http://localhost:9999/import")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.Engine.Command != "/usr/local/bin/engine" {
		t.Errorf("Engine.Command = %q, want env override", cfg.Engine.Command)
	}
	if cfg.Engine.Args != nil {
		t.Errorf("Engine.Args = %v, want cleared by override", cfg.Engine.Args)
	}
	if cfg.Recording.ImportURL != "http://localhost:9999/import" {
		t.Errorf("Recording.ImportURL = %q, want env override", cfg.Recording.ImportURL)
	}
	if !cfg.Recording.AutoImport {
		t.Error("Recording.AutoImport should be enabled by BATON_IMPORT_URL")
	}
}
