package model

import "fmt"

type ProcessState string

const (
	ProcessStateNotStarted ProcessState = "not_started"
	ProcessStateStarting   ProcessState = "starting"
	ProcessStateRunning    ProcessState = "running"
	ProcessStateStopping   ProcessState = "stopping"
	ProcessStateStopped    ProcessState = "stopped"
	ProcessStateCrashed    ProcessState = "crashed"
)

type RecordingState string

const (
	RecordingStateIdle      RecordingState = "idle"
	RecordingStateRecording RecordingState = "recording"
	RecordingStateStopped   RecordingState = "stopped"
)

type ExecutionState string

const (
	ExecutionStateIdle   ExecutionState = "idle"
	ExecutionStateActive ExecutionState = "active"
)

// States from which a new engine process may be spawned. Crashed is
// included: the previous process is gone and restart is an explicit
// caller action.
var spawnableProcessStates = map[ProcessState]bool{
	ProcessStateNotStarted: true,
	ProcessStateStopped:    true,
	ProcessStateCrashed:    true,
}

// Engine process transitions: not_started → starting → running → stopping → stopped,
// with crashed reachable from starting (exit before readiness) and running
// (unexpected exit). starting → stopped covers the readiness-timeout kill.
var validProcessTransitions = map[ProcessState]map[ProcessState]bool{
	ProcessStateNotStarted: {
		ProcessStateStarting: true,
	},
	ProcessStateStarting: {
		ProcessStateRunning: true,
		ProcessStateStopped: true, // readiness timeout → killed
		ProcessStateCrashed: true,
	},
	ProcessStateRunning: {
		ProcessStateStopping: true,
		ProcessStateCrashed:  true,
	},
	ProcessStateStopping: {
		ProcessStateStopped: true,
	},
	ProcessStateStopped: {
		ProcessStateStarting: true, // explicit restart
	},
	ProcessStateCrashed: {
		ProcessStateStarting: true, // explicit restart
	},
}

// Recording session transitions: a stopped session is never destroyed,
// only superseded by the next confirmed start.
var validRecordingTransitions = map[RecordingState]map[RecordingState]bool{
	RecordingStateIdle: {
		RecordingStateRecording: true,
	},
	RecordingStateRecording: {
		RecordingStateStopped: true,
	},
	RecordingStateStopped: {
		RecordingStateRecording: true, // superseding session
	},
}

var validExecutionTransitions = map[ExecutionState]map[ExecutionState]bool{
	ExecutionStateIdle: {
		ExecutionStateActive: true,
	},
	ExecutionStateActive: {
		ExecutionStateIdle: true,
	},
}

func CanSpawn(s ProcessState) bool {
	return spawnableProcessStates[s]
}

func ValidateProcessTransition(from, to ProcessState) error {
	allowed, ok := validProcessTransitions[from]
	if !ok {
		return fmt.Errorf("unknown process state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid process transition: %q → %q", from, to)
	}
	return nil
}

func ValidateRecordingTransition(from, to RecordingState) error {
	allowed, ok := validRecordingTransitions[from]
	if !ok {
		return fmt.Errorf("unknown recording state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid recording transition: %q → %q", from, to)
	}
	return nil
}

func ValidateExecutionTransition(from, to ExecutionState) error {
	allowed, ok := validExecutionTransitions[from]
	if !ok {
		return fmt.Errorf("unknown execution state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid execution transition: %q → %q", from, to)
	}
	return nil
}
