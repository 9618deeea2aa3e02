// Package protocol implements the JSON-lines protocol spoken with the
// automation engine over its stdin/stdout pipes.
package protocol

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// Message type discriminators (the "type" field on every wire line).
const (
	TypeCommand  = "command"
	TypeEvent    = "event"
	TypeResponse = "response"
)

// Command names accepted by the engine.
const (
	CommandLoad            = "load"
	CommandStart           = "start"
	CommandStop            = "stop"
	CommandStatus          = "status"
	CommandStartRecording  = "start_recording"
	CommandStopRecording   = "stop_recording"
	CommandRecordingStatus = "recording_status"
)

// Event names emitted by the engine. engine_crashed is synthesized
// locally by the supervisor when the process exits unexpectedly; the
// engine itself never sends it.
const (
	EventReady              = "ready"
	EventConfigLoaded       = "config_loaded"
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventProcessStarted     = "process_started"
	EventProcessCompleted   = "process_completed"
	EventImageRecognition   = "image_recognition"
	EventActionExecution    = "action_execution"
	EventRecordingStarted   = "recording_started"
	EventRecordingStopped   = "recording_stopped"
	EventLog                = "log"
	EventError              = "error"
	EventEngineCrashed      = "engine_crashed"
)

type Command struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Name   string          `json:"command"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Event struct {
	Type      string          `json:"type"`
	Name      string          `json:"event"`
	Timestamp float64         `json:"timestamp,omitempty"`
	Sequence  uint64          `json:"sequence"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Message is one decoded wire line.
type Message struct {
	Kind     string
	Command  *Command
	Event    *Event
	Response *Response
}

// NewCommand builds a command with a fresh UUID. Params are marshalled
// eagerly so an unrepresentable payload fails here, before anything is
// handed to the encoder.
func NewCommand(name string, params any) (*Command, error) {
	cmd := &Command{
		Type: TypeCommand,
		ID:   uuid.NewString(),
		Name: name,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, &EncodingError{Command: name, Err: err}
		}
		cmd.Params = data
	}
	return cmd, nil
}

// Time converts the epoch-seconds timestamp. A zero timestamp maps to
// the zero time.
func (e *Event) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// DecodeData unmarshals the event payload into out. Absent data is not
// an error; the payload structs keep their zero values.
func (e *Event) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}

// DecodeData unmarshals the response payload into out.
func (r *Response) DecodeData(out any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}
