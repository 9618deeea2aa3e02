// Package runner hosts the long-running baton process: it supervises
// the engine child, dispatches its event stream into session state and
// sinks, reconciles tracked state against engine answers, and serves
// the control socket the CLI talks to.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/msageha/baton/internal/control"
	"github.com/msageha/baton/internal/engine"
	"github.com/msageha/baton/internal/events"
	"github.com/msageha/baton/internal/flow"
	"github.com/msageha/baton/internal/importer"
	"github.com/msageha/baton/internal/lock"
	"github.com/msageha/baton/internal/model"
	"github.com/msageha/baton/internal/notify"
	"github.com/msageha/baton/internal/protocol"
	"github.com/msageha/baton/internal/session"
)

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

// Runner is the main baton process.
type Runner struct {
	batonDir string
	config   model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *control.Server
	watcher  *flow.Watcher

	sup   *engine.Supervisor
	disp  *Dispatcher
	recon *Reconciler

	bus       *events.Bus
	logs      *events.LogSink
	recogs    *events.RecognitionSink
	actions   *events.ActionSink
	history   *session.History
	recording *session.RecordingTracker
	execution *session.ExecutionTracker

	notifyFn func(title, message string)

	mu           sync.Mutex
	flowName     string
	flowPath     string
	configLoaded bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// SetNotifier replaces the desktop notification sink. Must be called
// before Run().
func (r *Runner) SetNotifier(fn func(title, message string)) {
	r.notifyFn = fn
}

// New creates a new Runner instance.
func New(batonDir string, cfg model.Config) (*Runner, error) {
	logPath := filepath.Join(batonDir, "logs", "runner.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open runner log: %w", err)
	}

	return newRunner(batonDir, cfg, logFile, logFile)
}

// newRunner is the internal constructor for testing.
func newRunner(batonDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())

	bus := events.NewBus(cfg.Observers.BufferSize)
	history := session.NewHistory(batonDir, cfg.Recording.HistorySize)

	r := &Runner{
		batonDir:  batonDir,
		config:    cfg,
		logLevel:  parseLogLevel(cfg.Logging.Level),
		logger:    log.New(w, "", 0),
		logFile:   closer,
		fileLock:  lock.NewFileLock(filepath.Join(batonDir, "locks", "runner.lock")),
		server:    control.NewServer(SocketPath(batonDir, cfg.Control)),
		bus:       bus,
		logs:      events.NewLogSink(cfg.Observers.SinkMaxEntries, bus),
		recogs:    events.NewRecognitionSink(cfg.Observers.SinkMaxEntries, bus),
		actions:   events.NewActionSink(cfg.Observers.SinkMaxEntries, bus),
		history:   history,
		recording: session.NewRecordingTracker(history),
		execution: session.NewExecutionTracker(),
		ctx:       ctx,
		cancel:    cancel,
	}
	r.notifyFn = func(title, message string) {
		if err := notify.Send(title, message); err != nil {
			r.log(LogLevelDebug, "notification failed: %v", err)
		}
	}

	return r, nil
}

// SocketPath resolves the control socket location for a .baton
// directory. A relative configured socket is placed inside it.
func SocketPath(batonDir string, cfg model.ControlConfig) string {
	socket := cfg.Socket
	if socket == "" {
		socket = control.DefaultSocketName
	}
	if filepath.IsAbs(socket) {
		return socket
	}
	return filepath.Join(batonDir, socket)
}

// Run starts the runner and blocks until shutdown completes.
func (r *Runner) Run() error {
	// Step 1: Acquire file lock
	if err := r.fileLock.TryLock(); err != nil {
		return fmt.Errorf("runner lock: %w", err)
	}
	r.log(LogLevelInfo, "runner starting pid=%d", os.Getpid())

	// Step 2: Create the engine supervisor
	sup, err := engine.New(r.batonDir, r.config.Engine, r.config.Logging.Level)
	if err != nil {
		r.fileLock.Unlock()
		return fmt.Errorf("create engine supervisor: %w", err)
	}
	r.sup = sup

	// Step 3: Build the event pipeline
	r.disp = NewDispatcher(r.recording, r.execution, r.logs, r.recogs, r.actions, r.logger, r.logLevel)
	r.recon = NewReconciler(r.config.Reconcile, sup, r.recording, r.logger, r.logLevel)
	r.wireComponents()

	// Step 3.5: Init flow watcher
	if r.config.Flow.Watch {
		watcher, err := flow.NewWatcher(0, r.handleFlowReload)
		if err != nil {
			r.cleanup()
			return fmt.Errorf("create flow watcher: %w", err)
		}
		r.watcher = watcher
	}

	// Step 4: Register control handlers
	r.registerHandlers()

	// Step 5: Start control server
	if err := r.server.Start(); err != nil {
		r.cleanup()
		return fmt.Errorf("start control server: %w", err)
	}
	r.log(LogLevelInfo, "control server listening on %s", SocketPath(r.batonDir, r.config.Control))

	// Step 6: Start the dispatch loop
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.disp.Run(sup.Events())
	}()

	// Step 6.5: Mirror activity entries to the foreground console
	r.bus.Subscribe("console", func(n events.Notification) {
		if n.Kind == events.KindLog && n.Log != nil {
			fmt.Printf("%s %-7s %s\n", n.Log.Timestamp.Format("15:04:05"), n.Log.Severity, n.Log.Message)
		}
	})

	// Step 7: Start the engine
	startCtx, cancelStart := context.WithCancel(r.ctx)
	err = sup.Start(startCtx)
	cancelStart()
	if err != nil {
		r.log(LogLevelError, "engine start failed: %v", err)
		r.logs.Append(time.Now().UTC(), model.SeverityError, fmt.Sprintf("engine failed to start: %v", err))
	}

	// Step 7.5: Load the configured flow
	if err == nil && r.config.Flow.Path != "" {
		loadCtx, cancelLoad := r.requestContext()
		if _, lerr := r.LoadFlow(loadCtx, r.config.Flow.Path); lerr != nil {
			r.log(LogLevelWarn, "initial flow load: %v", lerr)
			r.logs.Append(time.Now().UTC(), model.SeverityWarning, fmt.Sprintf("initial flow load failed: %v", lerr))
		}
		cancelLoad()
	}
	r.log(LogLevelInfo, "runner ready")

	// Step 8: Wait for signals
	r.waitSignals()

	return nil
}

// wireComponents connects the trackers, supervisor, and bus before any
// event flows.
func (r *Runner) wireComponents() {
	r.recording.SetPoller(r.recon)

	if r.config.Recording.AutoImport && r.config.Recording.ImportURL != "" {
		r.recording.SetImporter(importer.New(r.config.Recording), func(directory string, err error) {
			if err != nil {
				r.log(LogLevelWarn, "recording import failed dir=%s err=%v", directory, err)
				r.logs.Append(time.Now().UTC(), model.SeverityWarning, fmt.Sprintf("recording import failed: %v", err))
				return
			}
			r.log(LogLevelInfo, "recording imported dir=%s", directory)
			r.logs.Append(time.Now().UTC(), model.SeveritySuccess, fmt.Sprintf("recording imported: %s", filepath.Base(directory)))
		})
	}

	r.recording.SetChangeHandler(func(s model.RecordingSession) {
		r.bus.Publish(events.Notification{Kind: events.KindRecording, Recording: &s})
	})
	r.execution.SetChangeHandler(func(s model.ExecutionSession) {
		r.bus.Publish(events.Notification{Kind: events.KindExecution, Execution: &s})
	})

	r.sup.SetStateHandler(func(state model.ProcessState, exitCode *int) {
		r.bus.Publish(events.Notification{Kind: events.KindProcess, Process: &events.ProcessChange{State: state, ExitCode: exitCode}})
		if state == model.ProcessStateStopped {
			// A deliberate stop ends sessions cleanly; the crash path
			// runs through the synthesized engine_crashed event instead.
			r.recording.ApplyPollResult(false, nil)
			r.execution.HandleCrash()
		}
	})

	r.disp.SetConfigHandler(func(data protocol.ConfigLoadedData) {
		r.mu.Lock()
		r.configLoaded = true
		if data.Name != "" {
			r.flowName = data.Name
		}
		r.mu.Unlock()
	})
	r.disp.SetExecutionDoneHandler(func(success bool, message string) {
		if success {
			r.notifyUser("Baton", "Execution completed")
			return
		}
		if message == "" {
			message = "see logs for details"
		}
		r.notifyUser("Baton", fmt.Sprintf("Execution failed: %s", message))
	})

	r.bus.Subscribe("notifier", r.observeForNotifications)
}

// observeForNotifications raises desktop notifications for the
// transitions a user away from the terminal cares about.
func (r *Runner) observeForNotifications(n events.Notification) {
	switch n.Kind {
	case events.KindRecording:
		if n.Recording == nil || n.Recording.State != model.RecordingStateStopped {
			return
		}
		// finalize appends the history entry before publishing, so the
		// newest entry describes this session.
		entries := r.history.Entries()
		if len(entries) == 0 {
			return
		}
		latest := entries[0]
		if latest.Outcome == model.OutcomeSuccess {
			r.notifyUser("Baton", fmt.Sprintf("Recording saved: %d actions, %d screenshots", latest.ActionCount, latest.ScreenshotCount))
		} else {
			r.notifyUser("Baton", "Recording ended after engine crash")
		}
	case events.KindProcess:
		if n.Process == nil || n.Process.State != model.ProcessStateCrashed {
			return
		}
		code := 0
		if n.Process.ExitCode != nil {
			code = *n.Process.ExitCode
		}
		r.notifyUser("Baton", fmt.Sprintf("Engine crashed (exit code %d)", code))
	}
}

func (r *Runner) notifyUser(title, message string) {
	if !r.config.Notify.Enabled || r.notifyFn == nil {
		return
	}
	r.notifyFn(title, message)
}

// registerHandlers registers control request handlers.
func (r *Runner) registerHandlers() {
	r.server.Handle("ping", func(req *control.Request) *control.Response {
		return control.SuccessResponse(map[string]string{"status": "ok"})
	})

	r.server.Handle("shutdown", func(req *control.Request) *control.Response {
		r.log(LogLevelInfo, "shutdown requested via control socket")
		go r.Shutdown()
		return control.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	r.server.Handle("status", r.handleStatus)
	r.server.Handle("engine_start", r.handleEngineStart)
	r.server.Handle("engine_stop", r.handleEngineStop)
	r.server.Handle("load", r.handleLoad)
	r.server.Handle("exec_start", r.handleExecStart)
	r.server.Handle("exec_stop", r.handleExecStop)
	r.server.Handle("record_start", r.handleRecordStart)
	r.server.Handle("record_stop", r.handleRecordStop)
	r.server.Handle("record_status", r.handleRecordStatus)
	r.server.Handle("history", r.handleHistory)
	r.server.Handle("logs", r.handleLogs)
}

type loadParams struct {
	Path string `json:"path"`
}

type execParams struct {
	ProcessID string `json:"process_id"`
	Mode      string `json:"mode"`
	Monitor   int    `json:"monitor"`
}

type recordParams struct {
	Dir string `json:"dir"`
}

type logsParams struct {
	Tail int `json:"tail"`
}

func (r *Runner) handleStatus(req *control.Request) *control.Response {
	ctx, cancel := r.requestContext()
	defer cancel()
	return control.SuccessResponse(r.QueryStatus(ctx))
}

func (r *Runner) handleEngineStart(req *control.Request) *control.Response {
	ctx, cancel := r.requestContext()
	defer cancel()
	if err := r.StartEngine(ctx); err != nil {
		return r.errorResponse(err)
	}
	return control.SuccessResponse(map[string]any{"status": "running", "pid": r.sup.PID()})
}

func (r *Runner) handleEngineStop(req *control.Request) *control.Response {
	ctx, cancel := r.requestContext()
	defer cancel()
	if err := r.StopEngine(ctx); err != nil {
		return r.errorResponse(err)
	}
	return control.SuccessResponse(map[string]string{"status": "stopped"})
}

func (r *Runner) handleLoad(req *control.Request) *control.Response {
	var params loadParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return control.ErrorResponse(control.ErrCodeValidation, fmt.Sprintf("malformed params: %v", err))
		}
	}
	ctx, cancel := r.requestContext()
	defer cancel()
	def, err := r.LoadFlow(ctx, params.Path)
	if err != nil {
		return r.errorResponse(err)
	}
	return control.SuccessResponse(map[string]any{
		"name":      def.Metadata.Name,
		"summary":   def.Summary(),
		"processes": def.ProcessNames(),
	})
}

func (r *Runner) handleExecStart(req *control.Request) *control.Response {
	var params execParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return control.ErrorResponse(control.ErrCodeValidation, fmt.Sprintf("malformed params: %v", err))
		}
	}
	ctx, cancel := r.requestContext()
	defer cancel()
	if err := r.StartExecution(ctx, params.ProcessID, params.Mode, params.Monitor); err != nil {
		return r.errorResponse(err)
	}
	return control.SuccessResponse(map[string]string{"status": "accepted"})
}

func (r *Runner) handleExecStop(req *control.Request) *control.Response {
	ctx, cancel := r.requestContext()
	defer cancel()
	if err := r.StopExecution(ctx); err != nil {
		return r.errorResponse(err)
	}
	return control.SuccessResponse(map[string]string{"status": "stopping"})
}

func (r *Runner) handleRecordStart(req *control.Request) *control.Response {
	var params recordParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return control.ErrorResponse(control.ErrCodeValidation, fmt.Sprintf("malformed params: %v", err))
		}
	}
	ctx, cancel := r.requestContext()
	defer cancel()
	runID, err := r.StartRecording(ctx, params.Dir)
	if err != nil {
		return r.errorResponse(err)
	}
	return control.SuccessResponse(map[string]string{"run_id": runID})
}

func (r *Runner) handleRecordStop(req *control.Request) *control.Response {
	ctx, cancel := r.requestContext()
	defer cancel()
	if err := r.StopRecording(ctx); err != nil {
		return r.errorResponse(err)
	}
	return control.SuccessResponse(map[string]string{"status": "stopping"})
}

func (r *Runner) handleRecordStatus(req *control.Request) *control.Response {
	ctx, cancel := r.requestContext()
	defer cancel()
	return control.SuccessResponse(r.RecordingStatus(ctx))
}

func (r *Runner) handleHistory(req *control.Request) *control.Response {
	return control.SuccessResponse(map[string]any{"entries": r.history.Entries()})
}

func (r *Runner) handleLogs(req *control.Request) *control.Response {
	var params logsParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return control.ErrorResponse(control.ErrCodeValidation, fmt.Sprintf("malformed params: %v", err))
		}
	}
	return control.SuccessResponse(map[string]any{"entries": r.RecentLogs(params.Tail)})
}

// requestContext bounds a single control request. Shutdown aborts all
// in-flight engine requests through the parent context.
func (r *Runner) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.ctx, 10*time.Second)
}

// errorResponse maps facade errors onto control error codes.
func (r *Runner) errorResponse(err error) *control.Response {
	var pre *PreconditionError
	var engErr *EngineError
	var timeoutErr *engine.StartupTimeoutError
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		return control.ErrorResponse(control.ErrCodeAlreadyRunning, err.Error())
	case errors.Is(err, ErrEngineNotRunning):
		return control.ErrorResponse(control.ErrCodeEngineNotRunning, err.Error())
	case errors.As(err, &timeoutErr):
		return control.ErrorResponse(control.ErrCodeTimeout, err.Error())
	case errors.As(err, &pre):
		return control.ErrorResponse(control.ErrCodePreconditionFailed, err.Error())
	case errors.As(err, &engErr):
		return control.ErrorResponse(control.ErrCodeEngineError, err.Error())
	case isValidationError(err):
		return control.ErrorResponse(control.ErrCodeValidation, err.Error())
	case errors.Is(err, os.ErrNotExist):
		return control.ErrorResponse(control.ErrCodeNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return control.ErrorResponse(control.ErrCodeTimeout, err.Error())
	default:
		return control.ErrorResponse(control.ErrCodeInternal, err.Error())
	}
}

func isValidationError(err error) bool {
	var ve *flow.ValidationError
	return errors.As(err, &ve)
}

// StartEngine spawns the engine process and waits for readiness. A
// fresh engine knows nothing, so the previously loaded flow (if any)
// is offered to it again.
func (r *Runner) StartEngine(ctx context.Context) error {
	if err := r.sup.Start(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.configLoaded = false
	path := r.flowPath
	r.mu.Unlock()
	r.logs.Append(time.Now().UTC(), model.SeverityInfo, "engine started")

	if path != "" {
		if _, err := r.LoadFlow(ctx, path); err != nil {
			r.log(LogLevelWarn, "flow reload after engine start: %v", err)
		}
	}
	return nil
}

// StopEngine terminates the engine. An active recording is asked to
// stop first so the engine flushes its artifacts before exiting.
func (r *Runner) StopEngine(ctx context.Context) error {
	if r.recording.Status().State == model.RecordingStateRecording {
		if err := r.sup.Send(protocol.CommandStopRecording, nil); err != nil {
			r.log(LogLevelWarn, "stop recording before engine stop: %v", err)
		}
	}
	if err := r.sup.Stop(ctx); err != nil {
		return err
	}
	r.logs.Append(time.Now().UTC(), model.SeverityInfo, "engine stopped")
	return nil
}

// LoadFlow validates the definition at path locally, offers it to the
// engine, and on success tracks it as the current flow (re-pointing the
// change watcher at it).
func (r *Runner) LoadFlow(ctx context.Context, path string) (*flow.Definition, error) {
	if path == "" {
		path = r.config.Flow.Path
	}
	if path == "" {
		return nil, &PreconditionError{Op: "load", Reason: "no flow path given and flow.path is not configured"}
	}
	if r.sup.State() != model.ProcessStateRunning {
		return nil, fmt.Errorf("load: %w", ErrEngineNotRunning)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve flow path: %w", err)
	}
	def, err := flow.Load(abs)
	if err != nil {
		return nil, err
	}

	resp, err := r.sup.Request(ctx, protocol.CommandLoad, protocol.LoadParams{ConfigPath: abs})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &EngineError{Op: "load", Message: resp.Error}
	}

	r.mu.Lock()
	r.flowPath = abs
	r.flowName = def.Metadata.Name
	r.configLoaded = true
	r.mu.Unlock()

	if r.watcher != nil {
		if err := r.watcher.Watch(abs); err != nil {
			r.log(LogLevelWarn, "watch flow file: %v", err)
		}
	}

	r.log(LogLevelInfo, "flow loaded: %s", def.Summary())
	return def, nil
}

// StartExecution asks the engine to run the loaded flow, or a single
// process of it when processID is set. monitor selects the display the
// engine should drive; zero keeps the engine's default.
func (r *Runner) StartExecution(ctx context.Context, processID, mode string, monitor int) error {
	if r.sup.State() != model.ProcessStateRunning {
		return fmt.Errorf("start execution: %w", ErrEngineNotRunning)
	}
	r.mu.Lock()
	loaded := r.configLoaded
	r.mu.Unlock()
	if !loaded {
		return &PreconditionError{Op: "start execution", Reason: "no flow is loaded"}
	}
	if r.execution.Status().State == model.ExecutionStateActive {
		return &PreconditionError{Op: "start execution", Reason: "an execution is already active"}
	}

	resp, err := r.sup.Request(ctx, protocol.CommandStart, protocol.StartParams{Mode: mode, ProcessID: processID, MonitorIndex: monitor})
	if err != nil {
		return err
	}
	if !resp.Success {
		return &EngineError{Op: "start", Message: resp.Error}
	}
	return nil
}

// StopExecution asks the engine to halt the active run. The tracker
// resets when the execution_completed event arrives, not here.
func (r *Runner) StopExecution(ctx context.Context) error {
	if r.sup.State() != model.ProcessStateRunning {
		return fmt.Errorf("stop execution: %w", ErrEngineNotRunning)
	}
	if r.execution.Status().State != model.ExecutionStateActive {
		return &PreconditionError{Op: "stop execution", Reason: "no execution is active"}
	}

	resp, err := r.sup.Request(ctx, protocol.CommandStop, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return &EngineError{Op: "stop", Message: resp.Error}
	}
	return nil
}

// StartRecording arms the tracker with a fresh run id and asks the
// engine to begin capturing under baseDir (the configured directory
// when empty). The session becomes active when the recording_started
// event confirms it.
func (r *Runner) StartRecording(ctx context.Context, baseDir string) (string, error) {
	if r.sup.State() != model.ProcessStateRunning {
		return "", fmt.Errorf("start recording: %w", ErrEngineNotRunning)
	}
	if r.recording.Status().State == model.RecordingStateRecording {
		return "", &PreconditionError{Op: "start recording", Reason: "a recording is already active"}
	}
	if baseDir == "" {
		baseDir = r.recordingBaseDir()
	}

	runID := r.recording.Arm()
	resp, err := r.sup.Request(ctx, protocol.CommandStartRecording, protocol.StartRecordingParams{BaseDir: baseDir})
	if err != nil {
		r.recording.Disarm()
		return "", err
	}
	if !resp.Success {
		r.recording.Disarm()
		return "", &EngineError{Op: "start_recording", Message: resp.Error}
	}
	return runID, nil
}

// StopRecording asks the engine to finish the active recording. The
// session finalizes when the recording_stopped event (or the next
// reconcile poll) confirms it.
func (r *Runner) StopRecording(ctx context.Context) error {
	if r.recording.Status().State != model.RecordingStateRecording {
		return &PreconditionError{Op: "stop recording", Reason: "no recording is active"}
	}
	if r.sup.State() != model.ProcessStateRunning {
		return fmt.Errorf("stop recording: %w", ErrEngineNotRunning)
	}

	resp, err := r.sup.Request(ctx, protocol.CommandStopRecording, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return &EngineError{Op: "stop_recording", Message: resp.Error}
	}
	return nil
}

// QueryStatus merges supervisor, session, and engine-reported state
// into one snapshot. The live engine is consulted only while running;
// otherwise the locally tracked view stands alone.
func (r *Runner) QueryStatus(ctx context.Context) model.StatusSnapshot {
	r.mu.Lock()
	flowName := r.flowName
	configLoaded := r.configLoaded
	r.mu.Unlock()

	snap := model.StatusSnapshot{
		Process:              r.sup.State(),
		PID:                  r.sup.PID(),
		ExitCode:             r.sup.ExitCode(),
		ConfigLoaded:         configLoaded,
		FlowName:             flowName,
		Recording:            r.recording.Status(),
		Execution:            r.execution.Status(),
		History:              r.history.Len(),
		DroppedNotifications: r.bus.Dropped(),
	}

	if snap.Process == model.ProcessStateRunning {
		if status, err := r.recon.FetchEngineStatus(ctx); err == nil {
			snap.EngineState = status.CurrentState
			snap.ConfigLoaded = snap.ConfigLoaded || status.ConfigLoaded
		} else {
			r.log(LogLevelWarn, "engine status fetch failed: %v", err)
		}
	}

	return snap
}

// RecordingStatus returns the recording session, reconciled against a
// live engine answer when one is reachable.
func (r *Runner) RecordingStatus(ctx context.Context) model.RecordingSession {
	if r.sup.State() == model.ProcessStateRunning {
		if status, err := r.recon.FetchRecordingStatus(ctx); err == nil {
			r.recording.ApplyPollResult(status.IsRecording, statsFromWire(status.Statistics))
		} else {
			r.log(LogLevelWarn, "recording status fetch failed: %v", err)
		}
	}
	return r.recording.Status()
}

// RecentLogs returns the newest n retained activity-log entries,
// oldest first. n <= 0 means a default page of 50.
func (r *Runner) RecentLogs(n int) []model.LogEntry {
	if n <= 0 {
		n = 50
	}
	entries := r.logs.Entries()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}

func (r *Runner) recordingBaseDir() string {
	base := r.config.Recording.BaseDir
	if base == "" {
		base = "recordings"
	}
	if filepath.IsAbs(base) {
		return base
	}
	return filepath.Join(r.batonDir, base)
}

// handleFlowReload reacts to on-disk changes of the loaded flow file.
// Invalid updates are reported and the engine keeps the previous flow.
func (r *Runner) handleFlowReload(def *flow.Definition, err error) {
	if err != nil {
		r.log(LogLevelWarn, "flow reload: %v", err)
		r.logs.Append(time.Now().UTC(), model.SeverityWarning, fmt.Sprintf("flow file changed but failed validation: %v", err))
		return
	}
	if r.sup.State() != model.ProcessStateRunning {
		r.log(LogLevelDebug, "flow changed while engine down, reload deferred to next load")
		return
	}

	ctx, cancel := r.requestContext()
	defer cancel()
	resp, reqErr := r.sup.Request(ctx, protocol.CommandLoad, protocol.LoadParams{ConfigPath: def.Path()})
	if reqErr != nil {
		r.log(LogLevelWarn, "flow reload request: %v", reqErr)
		return
	}
	if !resp.Success {
		r.log(LogLevelWarn, "flow reload rejected by engine: %s", resp.Error)
		r.logs.Append(time.Now().UTC(), model.SeverityWarning, fmt.Sprintf("flow reload rejected by engine: %s", resp.Error))
		return
	}

	r.mu.Lock()
	r.flowName = def.Metadata.Name
	r.configLoaded = true
	r.mu.Unlock()
	r.logs.Append(time.Now().UTC(), model.SeverityInfo, fmt.Sprintf("flow reloaded: %s", def.Summary()))
}

// waitSignals blocks until a shutdown signal is received.
func (r *Runner) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	r.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal → force exit
	go func() {
		<-sigCh
		r.log(LogLevelWarn, "received second signal, forcing exit")
		r.forceExit.Store(true)
		os.Exit(1)
	}()

	r.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (r *Runner) Shutdown() {
	r.shutdown.Do(func() {
		r.log(LogLevelInfo, "shutdown started")

		// 1. Cancel context (aborts in-flight engine requests)
		r.cancel()

		// 2. Stop the control surface and flow watcher
		if r.server != nil {
			r.server.Stop()
		}
		if r.watcher != nil {
			r.watcher.Close()
		}

		// 3. Stop the engine; an active recording finalizes on the way down
		if r.sup != nil {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
			if err := r.StopEngine(stopCtx); err != nil {
				r.log(LogLevelDebug, "engine stop during shutdown: %v", err)
			}
			cancelStop()
			r.sup.Close()
		}
		if r.recon != nil {
			r.recon.Stop()
		}

		// 4. Drain the dispatch loop
		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			r.log(LogLevelInfo, "event dispatch drained")
		case <-time.After(10 * time.Second):
			r.log(LogLevelWarn, "shutdown timeout, event dispatch still busy")
		}

		r.bus.Close()

		// 5. Cleanup
		r.cleanup()
		r.log(LogLevelInfo, "runner stopped")
	})
}

// cleanup releases resources.
func (r *Runner) cleanup() {
	r.fileLock.Unlock()
	if r.logFile != nil {
		r.logFile.Close()
	}
}

func (r *Runner) log(level LogLevel, format string, args ...any) {
	if level < r.logLevel {
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
	r.logger.Printf("%s %s runner: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
