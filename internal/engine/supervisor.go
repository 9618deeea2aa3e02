// Package engine owns the automation-engine child process: spawning,
// readiness gating, protocol I/O, response correlation, and crash
// detection.
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/msageha/baton/internal/model"
	"github.com/msageha/baton/internal/protocol"
)

// ErrAlreadyRunning is returned by Start while a previous engine
// process is still starting, running, or stopping.
var ErrAlreadyRunning = errors.New("engine process already running")

// StartupTimeoutError is returned when the engine never emits its
// readiness event inside the configured window. The process has been
// killed by the time the caller sees it.
type StartupTimeoutError struct {
	Timeout time.Duration
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("engine not ready after %s, process killed", e.Timeout)
}

// LogLevel controls logging verbosity.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// StateHandler observes process state transitions. exitCode is non-nil
// only for stopped and crashed.
type StateHandler func(state model.ProcessState, exitCode *int)

// Supervisor owns the engine process handle. All state transitions go
// through the model transition table; no other component terminates or
// restarts the process.
type Supervisor struct {
	cfg          model.EngineConfig
	readyTimeout time.Duration
	stopGrace    time.Duration

	logger   *log.Logger
	logFile  io.Closer
	logLevel LogLevel

	stateFn  StateHandler
	stderrFn func(line string)

	events chan protocol.Event

	mu       sync.Mutex
	state    model.ProcessState
	exitCode *int
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	enc      *protocol.Encoder
	done     chan struct{}
	stopping bool
	pending  map[string]chan *protocol.Response

	closeOnce sync.Once
}

// New creates a supervisor logging to logs/engine.log under batonDir.
func New(batonDir string, cfg model.EngineConfig, logLevel string) (*Supervisor, error) {
	logPath := filepath.Join(batonDir, "logs", "engine.log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	return newSupervisor(cfg, logLevel, logFile, logFile), nil
}

func newSupervisor(cfg model.EngineConfig, logLevel string, w io.Writer, closer io.Closer) *Supervisor {
	eventBuffer := cfg.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	readyTimeout := time.Duration(cfg.ReadyTimeoutSec) * time.Second
	if readyTimeout <= 0 {
		readyTimeout = 15 * time.Second
	}
	stopGrace := time.Duration(cfg.StopGraceMs) * time.Millisecond
	if stopGrace <= 0 {
		stopGrace = 500 * time.Millisecond
	}
	return &Supervisor{
		cfg:          cfg,
		readyTimeout: readyTimeout,
		stopGrace:    stopGrace,
		logger:       log.New(w, "", 0),
		logFile:      closer,
		logLevel:     parseLogLevel(logLevel),
		events:       make(chan protocol.Event, eventBuffer),
		state:        model.ProcessStateNotStarted,
		pending:      make(map[string]chan *protocol.Response),
	}
}

// SetStateHandler wires the process-change observer. Must be called
// before Start.
func (s *Supervisor) SetStateHandler(fn StateHandler) {
	s.stateFn = fn
}

// SetStderrHandler wires a consumer for raw engine stderr lines. Must
// be called before Start.
func (s *Supervisor) SetStderrHandler(fn func(line string)) {
	s.stderrFn = fn
}

// Events returns the decoded event stream, in arrival order across
// process generations. Sends block when the consumer falls behind; the
// buffer absorbs bursts. The channel closes on Close.
func (s *Supervisor) Events() <-chan protocol.Event {
	return s.events
}

// State returns the current process state.
func (s *Supervisor) State() model.ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExitCode returns the last observed exit code, or nil while the
// process has not exited.
func (s *Supervisor) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// PID returns the running process ID, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Start spawns the engine and blocks until it emits its readiness
// event, it exits early, the readiness window elapses (the process is
// killed and *StartupTimeoutError returned), or ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if !model.CanSpawn(s.state) {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Workdir
	// The line protocol needs unbuffered engine output.
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("engine stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("engine stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("engine stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("spawn engine %s: %w", s.cfg.Command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.enc = protocol.NewEncoder(stdin)
	s.exitCode = nil
	s.stopping = false
	s.pending = make(map[string]chan *protocol.Response)
	ready := make(chan struct{})
	done := make(chan struct{})
	s.done = done
	s.applyStateLocked(model.ProcessStateStarting)
	s.mu.Unlock()

	s.notifyState(model.ProcessStateStarting, nil)
	s.log(LogLevelInfo, "spawn_engine command=%s pid=%d", s.cfg.Command, cmd.Process.Pid)

	go s.readStderr(stderr)
	go s.readLoop(stdout, ready, done)

	timer := time.NewTimer(s.readyTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-done:
		// Exited before readiness; prefer the ready outcome if both
		// raced in.
		select {
		case <-ready:
			return nil
		default:
		}
		code := 0
		if c := s.ExitCode(); c != nil {
			code = *c
		}
		return fmt.Errorf("engine exited before readiness (exit code %d)", code)
	case <-timer.C:
		s.log(LogLevelError, "readiness_timeout after=%s", s.readyTimeout)
		s.abortStartup()
		<-done
		return &StartupTimeoutError{Timeout: s.readyTimeout}
	case <-ctx.Done():
		s.abortStartup()
		<-done
		return fmt.Errorf("start engine: %w", ctx.Err())
	}
}

// Stop asks the engine to terminate: a stop command followed by stdin
// close, a bounded grace wait, then a kill if it is still alive.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != model.ProcessStateRunning {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("engine not running (state %s)", state)
	}
	s.stopping = true
	s.applyStateLocked(model.ProcessStateStopping)
	enc := s.enc
	stdin := s.stdin
	done := s.done
	s.mu.Unlock()

	s.notifyState(model.ProcessStateStopping, nil)
	s.log(LogLevelInfo, "stop_engine grace=%s", s.stopGrace)

	if cmd, err := protocol.NewCommand(protocol.CommandStop, nil); err == nil {
		if err := enc.Encode(cmd); err != nil {
			s.log(LogLevelWarn, "send_stop_failed %v", err)
		}
	}
	_ = stdin.Close()

	grace := time.NewTimer(s.stopGrace)
	defer grace.Stop()
	select {
	case <-done:
		return nil
	case <-grace.C:
		s.log(LogLevelWarn, "stop_grace_elapsed grace=%s, killing", s.stopGrace)
		s.kill()
	case <-ctx.Done():
		s.kill()
	}

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("engine did not exit after kill")
	}
}

// Send issues a fire-and-forget command.
func (s *Supervisor) Send(name string, params any) error {
	cmd, err := protocol.NewCommand(name, params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != model.ProcessStateRunning && s.state != model.ProcessStateStarting {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("engine not running (state %s)", state)
	}
	enc := s.enc
	s.mu.Unlock()

	s.log(LogLevelDebug, "send_command name=%s id=%s", name, cmd.ID)
	return enc.Encode(cmd)
}

// Request issues a command and waits for the response correlated by
// command ID, bounded by ctx.
func (s *Supervisor) Request(ctx context.Context, name string, params any) (*protocol.Response, error) {
	cmd, err := protocol.NewCommand(name, params)
	if err != nil {
		return nil, err
	}
	ch := make(chan *protocol.Response, 1)

	s.mu.Lock()
	if s.state != model.ProcessStateRunning && s.state != model.ProcessStateStarting {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("engine not running (state %s)", state)
	}
	s.pending[cmd.ID] = ch
	enc := s.enc
	s.mu.Unlock()

	if err := enc.Encode(cmd); err != nil {
		s.dropPending(cmd.ID)
		return nil, err
	}
	s.log(LogLevelDebug, "request name=%s id=%s", name, cmd.ID)

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("engine exited awaiting %s response", name)
		}
		return resp, nil
	case <-ctx.Done():
		s.dropPending(cmd.ID)
		return nil, fmt.Errorf("await %s response: %w", name, ctx.Err())
	}
}

// Close releases the supervisor after the process has stopped. The
// event channel is closed so the dispatcher loop can drain and exit.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.closeOnce.Do(func() {
		close(s.events)
		if s.logFile != nil {
			_ = s.logFile.Close()
		}
	})
	return nil
}

// abortStartup marks the pending process as deliberately terminated so
// the reaper records stopped, not crashed.
func (s *Supervisor) abortStartup() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.kill()
}

func (s *Supervisor) kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (s *Supervisor) readLoop(stdout io.Reader, ready, done chan struct{}) {
	dec := protocol.NewDecoder(stdout)
	for {
		msg, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var protoErr *protocol.ProtocolError
			if errors.As(err, &protoErr) {
				s.log(LogLevelWarn, "protocol_error %v", err)
				continue
			}
			s.log(LogLevelError, "read_engine_stream %v", err)
			break
		}

		switch msg.Kind {
		case protocol.TypeEvent:
			if msg.Event.Name == protocol.EventReady {
				s.markReady(ready)
			}
			s.events <- *msg.Event
		case protocol.TypeResponse:
			s.resolve(msg.Response)
		default:
			s.log(LogLevelWarn, "unexpected_inbound kind=%s", msg.Kind)
		}
	}
	s.reap(done)
}

func (s *Supervisor) markReady(ready chan struct{}) {
	s.mu.Lock()
	if s.state != model.ProcessStateStarting {
		s.mu.Unlock()
		return
	}
	s.applyStateLocked(model.ProcessStateRunning)
	s.mu.Unlock()

	s.notifyState(model.ProcessStateRunning, nil)
	s.log(LogLevelInfo, "engine_ready")
	close(ready)
}

// reap waits for the process, records the exit, fails anything still
// pending, and synthesizes the crash event on unexpected exits.
func (s *Supervisor) reap(done chan struct{}) {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	code := exitCodeFrom(cmd.Wait())

	s.mu.Lock()
	s.exitCode = &code
	stopping := s.stopping
	next := model.ProcessStateCrashed
	if stopping {
		next = model.ProcessStateStopped
	}
	s.applyStateLocked(next)
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.notifyState(next, &code)

	if stopping {
		s.log(LogLevelInfo, "engine_exit code=%d", code)
	} else {
		s.log(LogLevelError, "engine_exit_unexpected code=%d", code)
		data, _ := json.Marshal(protocol.EngineCrashedData{ExitCode: code})
		s.events <- protocol.Event{
			Type:      protocol.TypeEvent,
			Name:      protocol.EventEngineCrashed,
			Timestamp: float64(time.Now().UnixNano()) / 1e9,
			Data:      data,
		}
	}
	close(done)
}

func (s *Supervisor) readStderr(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		s.log(LogLevelDebug, "engine_stderr %s", line)
		if s.stderrFn != nil {
			s.stderrFn(line)
		}
	}
}

func (s *Supervisor) resolve(resp *protocol.Response) {
	s.mu.Lock()
	ch, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.mu.Unlock()

	if !ok {
		s.log(LogLevelDebug, "unmatched_response id=%s", resp.ID)
		return
	}
	ch <- resp
}

// applyStateLocked validates and applies a transition. Violations mean
// a supervisor bug; the state still tracks the real process.
func (s *Supervisor) applyStateLocked(next model.ProcessState) {
	if err := model.ValidateProcessTransition(s.state, next); err != nil {
		s.log(LogLevelError, "state_transition_violation %v", err)
	}
	s.state = next
}

func (s *Supervisor) notifyState(state model.ProcessState, exitCode *int) {
	if s.stateFn != nil {
		s.stateFn(state, exitCode)
	}
}

func (s *Supervisor) dropPending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (s *Supervisor) log(level LogLevel, format string, args ...any) {
	if level < s.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s %s supervisor: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
