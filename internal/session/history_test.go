package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/msageha/baton/internal/model"
)

func historyEntry(runID string, ts time.Time) model.RecordingHistoryEntry {
	return model.RecordingHistoryEntry{
		RunID:           runID,
		Timestamp:       ts,
		Directory:       "recordings/" + runID,
		ActionCount:     10,
		ScreenshotCount: 3,
		DurationSeconds: 42.5,
		Outcome:         model.OutcomeSuccess,
	}
}

func TestHistory_AppendNewestFirst(t *testing.T) {
	h := NewHistory(t.TempDir(), 5)
	base := time.Now().UTC()

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		if err := h.Append(historyEntry(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries := h.Entries()
	if len(entries) != 3 {
		t.Fatalf("length = %d, want 3", len(entries))
	}
	if entries[0].RunID != "run-3" || entries[2].RunID != "run-1" {
		t.Errorf("order = %s..%s, want run-3..run-1", entries[0].RunID, entries[2].RunID)
	}
}

func TestHistory_Capacity(t *testing.T) {
	h := NewHistory(t.TempDir(), 2)
	base := time.Now().UTC()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		h.Append(historyEntry(id, base))
	}

	entries := h.Entries()
	if len(entries) != 2 {
		t.Fatalf("length = %d, want 2", len(entries))
	}
	if entries[0].RunID != "run-3" || entries[1].RunID != "run-2" {
		t.Errorf("retained = %s, %s; want run-3, run-2", entries[0].RunID, entries[1].RunID)
	}
}

func TestHistory_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	h := NewHistory(dir, 5)
	entry := historyEntry("run-persist", ts)
	entry.Outcome = model.OutcomeFailed
	if err := h.Append(entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	reloaded := NewHistory(dir, 5)
	entries := reloaded.Entries()
	if len(entries) != 1 {
		t.Fatalf("length after reload = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.RunID != "run-persist" {
		t.Errorf("run id = %s", got.RunID)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.DurationSeconds != 42.5 {
		t.Errorf("duration = %v, want 42.5", got.DurationSeconds)
	}
	if got.Outcome != model.OutcomeFailed {
		t.Errorf("outcome = %s, want %s", got.Outcome, model.OutcomeFailed)
	}
}

func TestHistory_SchemaHeaderWritten(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(dir, 5)
	h.Append(historyEntry("run-header", time.Now().UTC()))

	data, err := os.ReadFile(filepath.Join(dir, "history.yaml"))
	if err != nil {
		t.Fatalf("read history file: %v", err)
	}
	if !strings.Contains(string(data), "schema_version: 1") {
		t.Error("missing schema_version header")
	}
	if !strings.Contains(string(data), "file_type: recording_history") {
		t.Error("missing file_type header")
	}
}

func TestHistory_CorruptFileRecovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.yaml")
	os.WriteFile(path, []byte(":\n  broken: [\n"), 0644)

	h := NewHistory(dir, 5)
	if h.Len() != 0 {
		t.Errorf("length = %d, want 0 after recovery", h.Len())
	}

	// The corrupt file is preserved for inspection.
	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	if err != nil || len(entries) != 1 {
		t.Errorf("quarantine entries = %v (err %v), want 1 file", entries, err)
	}

	// The store works normally afterwards.
	if err := h.Append(historyEntry("run-after", time.Now().UTC())); err != nil {
		t.Fatalf("Append after recovery failed: %v", err)
	}
	if NewHistory(dir, 5).Len() != 1 {
		t.Error("entry written after recovery should persist")
	}
}

func TestHistory_TruncatesOversizedFileOnLoad(t *testing.T) {
	dir := t.TempDir()

	h := NewHistory(dir, 5)
	base := time.Now().UTC()
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		h.Append(historyEntry(id, base))
	}

	// Reload with a smaller capacity keeps only the newest entries.
	small := NewHistory(dir, 2)
	entries := small.Entries()
	if len(entries) != 2 {
		t.Fatalf("length = %d, want 2", len(entries))
	}
	if entries[0].RunID != "run-3" {
		t.Errorf("newest = %s, want run-3", entries[0].RunID)
	}
}
