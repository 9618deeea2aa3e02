package model

import "testing"

func TestCanSpawn(t *testing.T) {
	tests := []struct {
		state     ProcessState
		spawnable bool
	}{
		{ProcessStateNotStarted, true},
		{ProcessStateStarting, false},
		{ProcessStateRunning, false},
		{ProcessStateStopping, false},
		{ProcessStateStopped, true},
		{ProcessStateCrashed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := CanSpawn(tt.state); got != tt.spawnable {
				t.Errorf("CanSpawn(%q) = %v, want %v", tt.state, got, tt.spawnable)
			}
		})
	}
}

func TestValidateProcessTransition(t *testing.T) {
	valid := []struct {
		from, to ProcessState
	}{
		{ProcessStateNotStarted, ProcessStateStarting},
		{ProcessStateStarting, ProcessStateRunning},
		{ProcessStateStarting, ProcessStateStopped},
		{ProcessStateStarting, ProcessStateCrashed},
		{ProcessStateRunning, ProcessStateStopping},
		{ProcessStateRunning, ProcessStateCrashed},
		{ProcessStateStopping, ProcessStateStopped},
		{ProcessStateStopped, ProcessStateStarting},
		{ProcessStateCrashed, ProcessStateStarting},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateProcessTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	invalid := []struct {
		from, to ProcessState
	}{
		{ProcessStateNotStarted, ProcessStateRunning},
		{ProcessStateNotStarted, ProcessStateStopped},
		{ProcessStateStarting, ProcessStateStopping}, // stop is gated on running
		{ProcessStateRunning, ProcessStateStopped},   // must pass through stopping
		{ProcessStateStopping, ProcessStateCrashed},  // exit during stopping is expected
		{ProcessStateStopped, ProcessStateRunning},
		{ProcessStateCrashed, ProcessStateRunning},
	}
	for _, tt := range invalid {
		t.Run("invalid_"+string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateProcessTransition(tt.from, tt.to); err == nil {
				t.Errorf("expected error for %q → %q", tt.from, tt.to)
			}
		})
	}
}

func TestValidateRecordingTransition(t *testing.T) {
	valid := []struct {
		from, to RecordingState
	}{
		{RecordingStateIdle, RecordingStateRecording},
		{RecordingStateRecording, RecordingStateStopped},
		{RecordingStateStopped, RecordingStateRecording},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateRecordingTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	invalid := []struct {
		from, to RecordingState
	}{
		{RecordingStateIdle, RecordingStateStopped}, // nothing to stop
		{RecordingStateRecording, RecordingStateIdle},
		{RecordingStateStopped, RecordingStateIdle},
	}
	for _, tt := range invalid {
		t.Run("invalid_"+string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateRecordingTransition(tt.from, tt.to); err == nil {
				t.Errorf("expected error for %q → %q", tt.from, tt.to)
			}
		})
	}
}

func TestValidateExecutionTransition(t *testing.T) {
	valid := []struct {
		from, to ExecutionState
	}{
		{ExecutionStateIdle, ExecutionStateActive},
		{ExecutionStateActive, ExecutionStateIdle},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateExecutionTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	if err := ValidateExecutionTransition(ExecutionStateIdle, ExecutionStateIdle); err == nil {
		t.Error("expected error for idle → idle")
	}
	if err := ValidateExecutionTransition("bogus", ExecutionStateActive); err == nil {
		t.Error("expected error for unknown state")
	}
}
