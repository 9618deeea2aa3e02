package session

import (
	"sync"
	"time"

	"github.com/msageha/baton/internal/model"
)

// ExecutionTracker is the single authority for the flow-execution
// session.
type ExecutionTracker struct {
	mu       sync.Mutex
	session  model.ExecutionSession
	onChange func(model.ExecutionSession)
}

func NewExecutionTracker() *ExecutionTracker {
	return &ExecutionTracker{
		session: model.ExecutionSession{State: model.ExecutionStateIdle},
	}
}

// SetChangeHandler wires the session-change observer.
func (t *ExecutionTracker) SetChangeHandler(fn func(model.ExecutionSession)) {
	t.onChange = fn
}

// HandleStarted applies the engine's execution-started event.
func (t *ExecutionTracker) HandleStarted(ts time.Time, processID string) error {
	t.mu.Lock()
	if t.session.State == model.ExecutionStateActive {
		// The engine moved to another process without an intervening
		// completed event; follow it.
		t.session.ProcessID = processID
		snapshot := t.session
		t.mu.Unlock()
		t.notify(snapshot)
		return nil
	}
	if err := model.ValidateExecutionTransition(t.session.State, model.ExecutionStateActive); err != nil {
		t.mu.Unlock()
		return err
	}
	started := ts
	t.session = model.ExecutionSession{
		State:     model.ExecutionStateActive,
		ProcessID: processID,
		StartedAt: &started,
	}
	snapshot := t.session
	t.mu.Unlock()

	t.notify(snapshot)
	return nil
}

// HandleCompleted applies the engine's execution-completed event. A
// completed event without a tracked execution is a no-op.
func (t *ExecutionTracker) HandleCompleted() {
	t.reset()
}

// HandleCrash clears an execution interrupted by engine death.
func (t *ExecutionTracker) HandleCrash() {
	t.reset()
}

// Status returns a copy of the current session.
func (t *ExecutionTracker) Status() model.ExecutionSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

func (t *ExecutionTracker) reset() {
	t.mu.Lock()
	if t.session.State != model.ExecutionStateActive {
		t.mu.Unlock()
		return
	}
	t.session = model.ExecutionSession{State: model.ExecutionStateIdle}
	snapshot := t.session
	t.mu.Unlock()

	t.notify(snapshot)
}

func (t *ExecutionTracker) notify(s model.ExecutionSession) {
	if t.onChange != nil {
		t.onChange(s)
	}
}
