package model

import "time"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

type RecordingStatistics struct {
	Actions     int `json:"actions" yaml:"actions"`
	Screenshots int `json:"screenshots" yaml:"screenshots"`
	Patterns    int `json:"patterns" yaml:"patterns"`
}

// RecordingSession is the locally tracked view of the engine's recording
// run. It is created at idle on startup and superseded, never destroyed.
// startedAt and targetDirectory are set on confirmed start and retained
// through stopped so a finished session stays inspectable.
type RecordingSession struct {
	State           RecordingState       `json:"state"`
	RunID           string               `json:"run_id,omitempty"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	TargetDirectory string               `json:"target_directory,omitempty"`
	Statistics      *RecordingStatistics `json:"statistics,omitempty"`
}

// ExecutionSession tracks the current automation run. No history is
// retained beyond the run itself.
type ExecutionSession struct {
	State     ExecutionState `json:"state"`
	ProcessID string         `json:"process_id,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
}

// RecordingHistoryEntry is the immutable record appended when a
// recording session completes.
type RecordingHistoryEntry struct {
	RunID           string    `json:"run_id" yaml:"run_id"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
	Directory       string    `json:"directory" yaml:"directory"`
	ActionCount     int       `json:"action_count" yaml:"action_count"`
	ScreenshotCount int       `json:"screenshot_count" yaml:"screenshot_count"`
	DurationSeconds float64   `json:"duration_seconds" yaml:"duration_seconds"`
	Outcome         Outcome   `json:"outcome" yaml:"outcome"`
}

// StatusSnapshot is the merged view served by the command facade:
// supervisor state plus session state plus whatever the engine last
// reported about itself.
type StatusSnapshot struct {
	Process              ProcessState     `json:"process"`
	PID                  int              `json:"pid,omitempty"`
	ExitCode             *int             `json:"exit_code,omitempty"`
	EngineState          string           `json:"engine_state,omitempty"`
	ConfigLoaded         bool             `json:"config_loaded"`
	FlowName             string           `json:"flow_name,omitempty"`
	Recording            RecordingSession `json:"recording"`
	Execution            ExecutionSession `json:"execution"`
	History              int              `json:"history"`
	DroppedNotifications uint64           `json:"dropped_notifications,omitempty"`
}
