package model

import (
	"testing"
	"time"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		level string
		want  Severity
	}{
		{"debug", SeverityDebug},
		{"DEBUG", SeverityDebug},
		{"info", SeverityInfo},
		{"warn", SeverityWarning},
		{"warning", SeverityWarning},
		{"WARNING", SeverityWarning},
		{"error", SeverityError},
		{"critical", SeverityError},
		{"success", SeveritySuccess},
		{"verbose", SeverityInfo}, // unknown → info
		{"", SeverityInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseSeverity(tt.level); got != tt.want {
				t.Errorf("ParseSeverity(%q) = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLogEntryDuplicateOf(t *testing.T) {
	ts := time.Unix(1700000000, 500000000)
	base := LogEntry{ID: 1, Timestamp: ts, Severity: SeverityInfo, Message: "state detected"}

	tests := []struct {
		name string
		next LogEntry
		dup  bool
	}{
		{"identical", LogEntry{ID: 2, Timestamp: ts, Severity: SeverityInfo, Message: "state detected"}, true},
		{"different message", LogEntry{ID: 2, Timestamp: ts, Severity: SeverityInfo, Message: "state lost"}, false},
		{"different severity", LogEntry{ID: 2, Timestamp: ts, Severity: SeverityWarning, Message: "state detected"}, false},
		{"different timestamp", LogEntry{ID: 2, Timestamp: ts.Add(time.Millisecond), Severity: SeverityInfo, Message: "state detected"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.next.DuplicateOf(base); got != tt.dup {
				t.Errorf("DuplicateOf = %v, want %v", got, tt.dup)
			}
		})
	}
}
