package model

import "time"

type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// ParseSeverity maps engine log levels (and their common spellings) onto
// the severity set. Unknown levels land on info so no entry is lost.
func ParseSeverity(level string) Severity {
	switch level {
	case "debug", "DEBUG":
		return SeverityDebug
	case "info", "INFO":
		return SeverityInfo
	case "warn", "warning", "WARN", "WARNING":
		return SeverityWarning
	case "error", "ERROR", "critical", "CRITICAL":
		return SeverityError
	case "success", "SUCCESS":
		return SeveritySuccess
	default:
		return SeverityInfo
	}
}

// LogEntry is one line of the user-facing activity log. ID is assigned
// by the sink the entry is appended to, monotonic per sink.
type LogEntry struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// DuplicateOf reports whether e repeats prev exactly. Consecutive
// duplicates are collapsed at the sink; IDs are deliberately excluded
// from the comparison.
func (e LogEntry) DuplicateOf(prev LogEntry) bool {
	return e.Timestamp.Equal(prev.Timestamp) &&
		e.Severity == prev.Severity &&
		e.Message == prev.Message
}

// RecognitionEntry records one image-recognition attempt reported by
// the engine.
type RecognitionEntry struct {
	ID         uint64    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Pattern    string    `json:"pattern"`
	Confidence float64   `json:"confidence"`
	Matched    bool      `json:"matched"`
	Location   string    `json:"location,omitempty"`
}

// ActionEntry records one automation-action attempt reported by the
// engine.
type ActionEntry struct {
	ID         uint64    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ActionType string    `json:"action_type"`
	Target     string    `json:"target,omitempty"`
	Success    bool      `json:"success"`
	DurationMs float64   `json:"duration_ms"`
}
