package events

import (
	"sync"
	"time"

	"github.com/msageha/baton/internal/model"
)

// LogSink is the append-only activity log. Entries get a monotonic
// per-sink ID; an entry equal to the immediately preceding one in
// (timestamp, severity, message) is treated as a duplicate and dropped.
// The sink keeps at most max entries, evicting the oldest.
type LogSink struct {
	mu      sync.Mutex
	entries []model.LogEntry
	nextID  uint64
	max     int
	bus     *Bus
}

// NewLogSink creates a log sink bounded to max entries. bus may be nil
// when no observer delivery is wanted (tests).
func NewLogSink(max int, bus *Bus) *LogSink {
	return &LogSink{max: max, bus: bus}
}

// Append stores a new entry and reports whether it was retained.
// Duplicates of the latest retained entry are dropped and never reach
// observers.
func (s *LogSink) Append(ts time.Time, severity model.Severity, message string) (model.LogEntry, bool) {
	entry := model.LogEntry{Timestamp: ts, Severity: severity, Message: message}

	s.mu.Lock()
	if n := len(s.entries); n > 0 && entry.DuplicateOf(s.entries[n-1]) {
		prev := s.entries[n-1]
		s.mu.Unlock()
		return prev, false
	}
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	if s.max > 0 && len(s.entries) > s.max {
		s.entries = s.entries[1:]
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(Notification{Kind: KindLog, Timestamp: ts, Log: &entry})
	}
	return entry, true
}

// Entries returns a copy of the retained entries in append order.
func (s *LogSink) Entries() []model.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *LogSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RecognitionSink is the append-only stream of image-recognition
// diagnostics, ordered independently of the activity log.
type RecognitionSink struct {
	mu      sync.Mutex
	entries []model.RecognitionEntry
	nextID  uint64
	max     int
	bus     *Bus
}

func NewRecognitionSink(max int, bus *Bus) *RecognitionSink {
	return &RecognitionSink{max: max, bus: bus}
}

func (s *RecognitionSink) Append(entry model.RecognitionEntry) model.RecognitionEntry {
	s.mu.Lock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	if s.max > 0 && len(s.entries) > s.max {
		s.entries = s.entries[1:]
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(Notification{Kind: KindRecognition, Timestamp: entry.Timestamp, Recognition: &entry})
	}
	return entry
}

func (s *RecognitionSink) Entries() []model.RecognitionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RecognitionEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *RecognitionSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ActionSink is the append-only stream of action-execution diagnostics.
type ActionSink struct {
	mu      sync.Mutex
	entries []model.ActionEntry
	nextID  uint64
	max     int
	bus     *Bus
}

func NewActionSink(max int, bus *Bus) *ActionSink {
	return &ActionSink{max: max, bus: bus}
}

func (s *ActionSink) Append(entry model.ActionEntry) model.ActionEntry {
	s.mu.Lock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	if s.max > 0 && len(s.entries) > s.max {
		s.entries = s.entries[1:]
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(Notification{Kind: KindAction, Timestamp: entry.Timestamp, Action: &entry})
	}
	return entry
}

func (s *ActionSink) Entries() []model.ActionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ActionEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *ActionSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
