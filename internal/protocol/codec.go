package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

const maxLineBytes = 10 * 1024 * 1024 // 10MB safety limit

// ProtocolError marks a single malformed wire line. The stream stays
// decodable; the caller logs the error and keeps reading.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed engine message %q: %v", truncate(e.Line, 120), e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// EncodingError marks a command payload that cannot be represented on
// the wire. It is returned before any byte is written.
type EncodingError struct {
	Command string
	Err     error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode command %q: %v", e.Command, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// SequenceRegressionError marks an event whose sequence number is lower
// than one already observed: a stale or duplicated message that must be
// logged, not applied.
type SequenceRegressionError struct {
	Last uint64
	Got  uint64
}

func (e *SequenceRegressionError) Error() string {
	return fmt.Sprintf("sequence regression: got %d after %d", e.Got, e.Last)
}

// Encoder writes commands to the engine's stdin, one JSON object per
// line. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals cmd into a buffer first so a marshal failure surfaces
// before anything reaches the writer, then writes the full line in one
// call.
func (e *Encoder) Encode(cmd *Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return &EncodingError{Command: cmd.Name, Err: err}
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write command %s: %w", cmd.Name, err)
	}
	return nil
}

// Decoder reads engine output line by line. Next returns io.EOF when
// the stream ends; a malformed line returns *ProtocolError and leaves
// the decoder usable, so one corrupt line never terminates the
// connection.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Decoder{scanner: sc}
}

func (d *Decoder) Next() (*Message, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		return decodeLine(line)
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read engine stream: %w", err)
	}
	return nil, io.EOF
}

type envelope struct {
	Type string `json:"type"`
}

func decodeLine(line string) (*Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, &ProtocolError{Line: line, Err: err}
	}

	switch env.Type {
	case TypeCommand:
		var cmd Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			return nil, &ProtocolError{Line: line, Err: err}
		}
		return &Message{Kind: TypeCommand, Command: &cmd}, nil
	case TypeEvent:
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, &ProtocolError{Line: line, Err: err}
		}
		return &Message{Kind: TypeEvent, Event: &ev}, nil
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return nil, &ProtocolError{Line: line, Err: err}
		}
		return &Message{Kind: TypeResponse, Response: &resp}, nil
	default:
		return nil, &ProtocolError{Line: line, Err: fmt.Errorf("unknown message type %q", env.Type)}
	}
}

// SequenceGuard asserts that observed event sequence numbers never
// decrease. Sequence 0 marks locally synthesized events and is exempt.
// Not safe for concurrent use; the dispatcher owns it.
type SequenceGuard struct {
	last uint64
}

func NewSequenceGuard() *SequenceGuard {
	return &SequenceGuard{}
}

func (g *SequenceGuard) Check(seq uint64) error {
	if seq == 0 {
		return nil
	}
	if seq < g.last {
		return &SequenceRegressionError{Last: g.last, Got: seq}
	}
	g.last = seq
	return nil
}

// Reset clears the guard for a fresh engine connection.
func (g *SequenceGuard) Reset() {
	g.last = 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
