package session

import (
	"sync"
	"testing"
	"time"

	"github.com/msageha/baton/internal/model"
)

type fakePoller struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (p *fakePoller) Start() {
	p.mu.Lock()
	p.starts++
	p.mu.Unlock()
}

func (p *fakePoller) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *fakePoller) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops
}

type fakeImporter struct {
	mu   sync.Mutex
	dirs []string
	err  error
}

func (i *fakeImporter) Import(dir string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dirs = append(i.dirs, dir)
	return i.err
}

func (i *fakeImporter) imported() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.dirs))
	copy(out, i.dirs)
	return out
}

func TestRecordingTracker_StartStop(t *testing.T) {
	h := NewHistory(t.TempDir(), 5)
	tr := NewRecordingTracker(h)
	p := &fakePoller{}
	tr.SetPoller(p)

	runID := tr.Arm()
	start := time.Now().UTC()
	if err := tr.HandleStarted(start, "recordings/run-a"); err != nil {
		t.Fatalf("HandleStarted failed: %v", err)
	}

	s := tr.Status()
	if s.State != model.RecordingStateRecording {
		t.Errorf("state = %s, want %s", s.State, model.RecordingStateRecording)
	}
	if s.RunID != runID {
		t.Errorf("run id = %s, want armed id %s", s.RunID, runID)
	}
	if s.TargetDirectory != "recordings/run-a" {
		t.Errorf("target directory = %s", s.TargetDirectory)
	}

	stats := &model.RecordingStatistics{Actions: 12, Screenshots: 4, Patterns: 2}
	tr.HandleStopped(start.Add(90*time.Second), "recordings/run-a", stats)

	s = tr.Status()
	if s.State != model.RecordingStateStopped {
		t.Errorf("state = %s, want %s", s.State, model.RecordingStateStopped)
	}

	entries := h.Entries()
	if len(entries) != 1 {
		t.Fatalf("history length = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.RunID != runID {
		t.Errorf("entry run id = %s, want %s", entry.RunID, runID)
	}
	if entry.ActionCount != 12 || entry.ScreenshotCount != 4 {
		t.Errorf("entry counts = %d/%d, want 12/4", entry.ActionCount, entry.ScreenshotCount)
	}
	if entry.DurationSeconds != 90 {
		t.Errorf("entry duration = %v, want 90", entry.DurationSeconds)
	}
	if entry.Outcome != model.OutcomeSuccess {
		t.Errorf("entry outcome = %s, want %s", entry.Outcome, model.OutcomeSuccess)
	}

	starts, stops := p.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("poller starts/stops = %d/%d, want 1/1", starts, stops)
	}
}

func TestRecordingTracker_SecondStopCauseIsNoOp(t *testing.T) {
	stats := &model.RecordingStatistics{Actions: 8, Screenshots: 3}

	t.Run("event_then_poll", func(t *testing.T) {
		h := NewHistory(t.TempDir(), 5)
		tr := NewRecordingTracker(h)
		tr.Arm()
		tr.HandleStarted(time.Now().UTC(), "recordings/run-b")
		tr.HandleStopped(time.Now().UTC(), "recordings/run-b", stats)
		tr.ApplyPollResult(false, &model.RecordingStatistics{Actions: 99})

		if h.Len() != 1 {
			t.Errorf("history length = %d, want 1", h.Len())
		}
		if got := h.Entries()[0].ActionCount; got != 8 {
			t.Errorf("action count = %d, want 8 from first cause", got)
		}
	})

	t.Run("poll_then_event", func(t *testing.T) {
		h := NewHistory(t.TempDir(), 5)
		tr := NewRecordingTracker(h)
		tr.Arm()
		tr.HandleStarted(time.Now().UTC(), "recordings/run-c")
		tr.ApplyPollResult(false, stats)
		tr.HandleStopped(time.Now().UTC(), "recordings/run-c", &model.RecordingStatistics{Actions: 99})

		if h.Len() != 1 {
			t.Errorf("history length = %d, want 1", h.Len())
		}
		if got := h.Entries()[0].ActionCount; got != 8 {
			t.Errorf("action count = %d, want 8 from first cause", got)
		}
	})
}

func TestRecordingTracker_PollOverwritesCounters(t *testing.T) {
	tr := NewRecordingTracker(NewHistory(t.TempDir(), 5))
	tr.Arm()
	tr.HandleStarted(time.Now().UTC(), "recordings/run-d")

	tr.ApplyPollResult(true, &model.RecordingStatistics{Actions: 5, Screenshots: 2})
	if got := tr.Status().Statistics.Actions; got != 5 {
		t.Fatalf("actions after first poll = %d, want 5", got)
	}

	// The engine answer wins even when the counter moved backwards.
	tr.ApplyPollResult(true, &model.RecordingStatistics{Actions: 3, Screenshots: 2})
	if got := tr.Status().Statistics.Actions; got != 3 {
		t.Errorf("actions after second poll = %d, want 3", got)
	}

	if tr.Status().State != model.RecordingStateRecording {
		t.Errorf("session should still be recording")
	}
}

func TestRecordingTracker_CrashMarksFailed(t *testing.T) {
	h := NewHistory(t.TempDir(), 5)
	tr := NewRecordingTracker(h)
	p := &fakePoller{}
	imp := &fakeImporter{}
	tr.SetPoller(p)
	tr.SetImporter(imp, nil)

	tr.Arm()
	tr.HandleStarted(time.Now().UTC(), "recordings/run-e")
	tr.ApplyPollResult(true, &model.RecordingStatistics{Actions: 7, Screenshots: 1})
	tr.HandleCrash(time.Now().UTC())

	entries := h.Entries()
	if len(entries) != 1 {
		t.Fatalf("history length = %d, want 1", len(entries))
	}
	if entries[0].Outcome != model.OutcomeFailed {
		t.Errorf("outcome = %s, want %s", entries[0].Outcome, model.OutcomeFailed)
	}
	if entries[0].ActionCount != 7 {
		t.Errorf("action count = %d, want last polled 7", entries[0].ActionCount)
	}

	_, stops := p.counts()
	if stops != 1 {
		t.Errorf("poller stops = %d, want 1", stops)
	}

	time.Sleep(50 * time.Millisecond)
	if got := imp.imported(); len(got) != 0 {
		t.Errorf("failed recording should not be imported, got %v", got)
	}
}

func TestRecordingTracker_ImportExactlyOnce(t *testing.T) {
	h := NewHistory(t.TempDir(), 5)
	tr := NewRecordingTracker(h)
	imp := &fakeImporter{}
	tr.SetImporter(imp, nil)

	tr.Arm()
	tr.HandleStarted(time.Now().UTC(), "recordings/run-f")
	tr.HandleStopped(time.Now().UTC(), "recordings/run-f", nil)
	tr.ApplyPollResult(false, nil)

	time.Sleep(100 * time.Millisecond)
	got := imp.imported()
	if len(got) != 1 || got[0] != "recordings/run-f" {
		t.Errorf("imported = %v, want exactly [recordings/run-f]", got)
	}
}

func TestRecordingTracker_StartWhileRecordingRejected(t *testing.T) {
	tr := NewRecordingTracker(NewHistory(t.TempDir(), 5))
	tr.Arm()
	if err := tr.HandleStarted(time.Now().UTC(), "recordings/run-g"); err != nil {
		t.Fatalf("HandleStarted failed: %v", err)
	}
	if err := tr.HandleStarted(time.Now().UTC(), "recordings/run-h"); err == nil {
		t.Error("second start should be rejected while recording")
	}
}

func TestRecordingTracker_RestartAfterStop(t *testing.T) {
	h := NewHistory(t.TempDir(), 5)
	tr := NewRecordingTracker(h)
	p := &fakePoller{}
	tr.SetPoller(p)

	first := tr.Arm()
	tr.HandleStarted(time.Now().UTC(), "recordings/run-i")
	tr.HandleStopped(time.Now().UTC(), "recordings/run-i", nil)

	second := tr.Arm()
	if err := tr.HandleStarted(time.Now().UTC(), "recordings/run-j"); err != nil {
		t.Fatalf("restart after stop failed: %v", err)
	}
	if first == second {
		t.Error("superseding recording should get a fresh run id")
	}
	if got := tr.Status().TargetDirectory; got != "recordings/run-j" {
		t.Errorf("target directory = %s, want recordings/run-j", got)
	}

	starts, _ := p.counts()
	if starts != 2 {
		t.Errorf("poller starts = %d, want 2", starts)
	}
}

func TestRecordingTracker_PollWhileIdleIgnored(t *testing.T) {
	h := NewHistory(t.TempDir(), 5)
	tr := NewRecordingTracker(h)

	tr.ApplyPollResult(true, &model.RecordingStatistics{Actions: 4})

	if got := tr.Status().State; got != model.RecordingStateIdle {
		t.Errorf("state = %s, want %s", got, model.RecordingStateIdle)
	}
	if h.Len() != 0 {
		t.Errorf("history length = %d, want 0", h.Len())
	}
}
