// Package model defines the data structures for baton's configuration,
// sessions, and engine-facing state machines.
package model

import "os"

type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Flow      FlowConfig      `yaml:"flow"`
	Recording RecordingConfig `yaml:"recording"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Observers ObserversConfig `yaml:"observers"`
	Control   ControlConfig   `yaml:"control"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type EngineConfig struct {
	Command         string   `yaml:"command"`
	Args            []string `yaml:"args"`
	Workdir         string   `yaml:"workdir"`
	ReadyTimeoutSec int      `yaml:"ready_timeout_sec"`
	StopGraceMs     int      `yaml:"stop_grace_ms"`
	EventBuffer     int      `yaml:"event_buffer"`
}

type FlowConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

type RecordingConfig struct {
	BaseDir          string `yaml:"base_dir"`
	HistorySize      int    `yaml:"history_size"`
	AutoImport       bool   `yaml:"auto_import"`
	ImportURL        string `yaml:"import_url"`
	ImportToken      string `yaml:"import_token"`
	ImportTimeoutSec int    `yaml:"import_timeout_sec"`
}

type ReconcileConfig struct {
	PollIntervalSec int `yaml:"poll_interval_sec"`
	PollTimeoutSec  int `yaml:"poll_timeout_sec"`
}

type ObserversConfig struct {
	BufferSize     int `yaml:"buffer_size"`
	SinkMaxEntries int `yaml:"sink_max_entries"`
}

type ControlConfig struct {
	// Socket is resolved against the .baton directory unless absolute.
	Socket string `yaml:"socket"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the configuration written by `baton init` and
// used as the fallback when fields are left empty.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Command:         "python3",
			Args:            []string{"-u", "-m", "qontinui.bridge"},
			ReadyTimeoutSec: 15,
			StopGraceMs:     500,
			EventBuffer:     256,
		},
		Flow: FlowConfig{
			Watch: true,
		},
		Recording: RecordingConfig{
			BaseDir:          "recordings",
			HistorySize:      5,
			AutoImport:       false,
			ImportTimeoutSec: 10,
		},
		Reconcile: ReconcileConfig{
			PollIntervalSec: 2,
			PollTimeoutSec:  3,
		},
		Observers: ObserversConfig{
			BufferSize:     64,
			SinkMaxEntries: 1000,
		},
		Control: ControlConfig{
			Socket: "baton.sock",
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "logs/baton.log",
		},
	}
}

// Normalize fills zero values with bounded defaults so a sparse
// config.yaml still yields a runnable configuration.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Engine.Command == "" {
		c.Engine.Command = def.Engine.Command
		if len(c.Engine.Args) == 0 {
			c.Engine.Args = def.Engine.Args
		}
	}
	if c.Engine.ReadyTimeoutSec <= 0 {
		c.Engine.ReadyTimeoutSec = def.Engine.ReadyTimeoutSec
	}
	if c.Engine.StopGraceMs <= 0 {
		c.Engine.StopGraceMs = def.Engine.StopGraceMs
	}
	if c.Engine.EventBuffer <= 0 {
		c.Engine.EventBuffer = def.Engine.EventBuffer
	}
	if c.Recording.BaseDir == "" {
		c.Recording.BaseDir = def.Recording.BaseDir
	}
	if c.Recording.HistorySize <= 0 {
		c.Recording.HistorySize = def.Recording.HistorySize
	}
	if c.Recording.ImportTimeoutSec <= 0 {
		c.Recording.ImportTimeoutSec = def.Recording.ImportTimeoutSec
	}
	if c.Reconcile.PollIntervalSec <= 0 {
		c.Reconcile.PollIntervalSec = def.Reconcile.PollIntervalSec
	}
	if c.Reconcile.PollTimeoutSec <= 0 {
		c.Reconcile.PollTimeoutSec = def.Reconcile.PollTimeoutSec
	}
	if c.Observers.BufferSize <= 0 {
		c.Observers.BufferSize = def.Observers.BufferSize
	}
	if c.Observers.SinkMaxEntries <= 0 {
		c.Observers.SinkMaxEntries = def.Observers.SinkMaxEntries
	}
	if c.Control.Socket == "" {
		c.Control.Socket = def.Control.Socket
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.File == "" {
		c.Logging.File = def.Logging.File
	}
}

// ApplyEnv overlays the few settings that make sense to override per
// invocation without editing config.yaml.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("BATON_ENGINE_COMMAND"); v != "" {
		c.Engine.Command = v
		c.Engine.Args = nil
	}
	if v := os.Getenv("BATON_IMPORT_URL"); v != "" {
		c.Recording.ImportURL = v
		c.Recording.AutoImport = true
	}
	if v := os.Getenv("BATON_IMPORT_TOKEN"); v != "" {
		c.Recording.ImportToken = v
	}
	if v := os.Getenv("BATON_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
