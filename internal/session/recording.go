// Package session owns recording and execution session state. All
// mutations happen inside the trackers; the event dispatcher and the
// status reconciler submit proposals and never write session fields
// themselves.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/baton/internal/model"
)

// Poller drives periodic engine status reconciliation while a
// recording is active. Start and Stop are idempotent and must not
// block; Stop may be called from the poll goroutine itself.
type Poller interface {
	Start()
	Stop()
}

// Importer uploads a finished recording directory.
type Importer interface {
	Import(directory string) error
}

// RecordingTracker is the single authority for the recording session.
// Stop is detected from the engine's stopped event or from a status
// poll, whichever lands first; the second cause finds the session
// already finalized and is a no-op.
type RecordingTracker struct {
	mu         sync.Mutex
	session    model.RecordingSession
	pendingRun string
	history    *History
	poller     Poller
	importer   Importer
	onChange   func(model.RecordingSession)
	onImported func(directory string, err error)
}

func NewRecordingTracker(history *History) *RecordingTracker {
	return &RecordingTracker{
		session: model.RecordingSession{State: model.RecordingStateIdle},
		history: history,
	}
}

// SetPoller wires the status poller. Must be called before events flow.
func (t *RecordingTracker) SetPoller(p Poller) {
	t.poller = p
}

// SetImporter wires the auto-import target for completed recordings.
func (t *RecordingTracker) SetImporter(imp Importer, done func(directory string, err error)) {
	t.importer = imp
	t.onImported = done
}

// SetChangeHandler wires the session-change observer.
func (t *RecordingTracker) SetChangeHandler(fn func(model.RecordingSession)) {
	t.onChange = fn
}

// Arm stages a run ID for the recording the caller is about to start.
// The ID is adopted when the started event arrives.
func (t *RecordingTracker) Arm() string {
	runID := uuid.NewString()
	t.mu.Lock()
	t.pendingRun = runID
	t.mu.Unlock()
	return runID
}

// Disarm clears a staged run ID after a failed start command.
func (t *RecordingTracker) Disarm() {
	t.mu.Lock()
	t.pendingRun = ""
	t.mu.Unlock()
}

// HandleStarted applies the engine's recording-started event.
func (t *RecordingTracker) HandleStarted(ts time.Time, directory string) error {
	t.mu.Lock()
	if err := model.ValidateRecordingTransition(t.session.State, model.RecordingStateRecording); err != nil {
		t.mu.Unlock()
		return err
	}
	runID := t.pendingRun
	if runID == "" {
		// Recording initiated outside this runner; still track it.
		runID = uuid.NewString()
	}
	t.pendingRun = ""
	started := ts
	t.session = model.RecordingSession{
		State:           model.RecordingStateRecording,
		RunID:           runID,
		StartedAt:       &started,
		TargetDirectory: directory,
	}
	snapshot := t.session
	t.mu.Unlock()

	if t.poller != nil {
		t.poller.Start()
	}
	t.notify(snapshot)
	return nil
}

// HandleStopped applies the engine's recording-stopped event.
func (t *RecordingTracker) HandleStopped(ts time.Time, directory string, stats *model.RecordingStatistics) {
	t.finalize(ts, directory, stats, model.OutcomeSuccess)
}

// ApplyPollResult reconciles tracked state against an authoritative
// engine status answer. Counters are overwritten, never merged. An
// engine that reports not-recording finalizes the session even though
// no stopped event was seen.
func (t *RecordingTracker) ApplyPollResult(isRecording bool, stats *model.RecordingStatistics) {
	t.mu.Lock()
	if t.session.State != model.RecordingStateRecording {
		t.mu.Unlock()
		return
	}
	if isRecording {
		t.session.Statistics = stats
		snapshot := t.session
		t.mu.Unlock()
		t.notify(snapshot)
		return
	}
	t.mu.Unlock()

	t.finalize(time.Now().UTC(), "", stats, model.OutcomeSuccess)
}

// HandleCrash finalizes a recording interrupted by engine death. The
// entry is recorded as failed and is not imported.
func (t *RecordingTracker) HandleCrash(ts time.Time) {
	t.finalize(ts, "", nil, model.OutcomeFailed)
}

// Status returns a copy of the current session.
func (t *RecordingTracker) Status() model.RecordingSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// finalize moves recording → stopped exactly once. Later callers with
// a different cause find the state already stopped and return.
func (t *RecordingTracker) finalize(ts time.Time, directory string, stats *model.RecordingStatistics, outcome model.Outcome) {
	t.mu.Lock()
	if t.session.State != model.RecordingStateRecording {
		t.mu.Unlock()
		return
	}
	if stats == nil {
		stats = t.session.Statistics
	}
	if directory == "" {
		directory = t.session.TargetDirectory
	}

	entry := model.RecordingHistoryEntry{
		RunID:     t.session.RunID,
		Directory: directory,
		Outcome:   outcome,
	}
	if t.session.StartedAt != nil {
		entry.Timestamp = *t.session.StartedAt
		entry.DurationSeconds = ts.Sub(*t.session.StartedAt).Seconds()
	} else {
		entry.Timestamp = ts
	}
	if stats != nil {
		entry.ActionCount = stats.Actions
		entry.ScreenshotCount = stats.Screenshots
	}

	t.session.State = model.RecordingStateStopped
	t.session.Statistics = stats
	t.session.TargetDirectory = directory
	snapshot := t.session
	t.mu.Unlock()

	if t.poller != nil {
		t.poller.Stop()
	}
	if t.history != nil {
		if err := t.history.Append(entry); err != nil {
			log.Printf("append recording history: %v", err)
		}
	}
	if outcome == model.OutcomeSuccess && t.importer != nil && directory != "" {
		go t.runImport(directory)
	}
	t.notify(snapshot)
}

func (t *RecordingTracker) runImport(directory string) {
	err := t.importer.Import(directory)
	if t.onImported != nil {
		t.onImported(directory, err)
	}
}

func (t *RecordingTracker) notify(s model.RecordingSession) {
	if t.onChange != nil {
		t.onChange(s)
	}
}
