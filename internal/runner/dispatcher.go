package runner

import (
	"fmt"
	"log"
	"time"

	"github.com/msageha/baton/internal/events"
	"github.com/msageha/baton/internal/model"
	"github.com/msageha/baton/internal/protocol"
	"github.com/msageha/baton/internal/session"
)

// Dispatcher consumes the supervisor's event stream on a single
// goroutine and routes each event: session proposals go to the
// trackers, entries go to the sinks, anything unclassified lands in
// the activity log at debug severity.
type Dispatcher struct {
	guard     *protocol.SequenceGuard
	recording *session.RecordingTracker
	execution *session.ExecutionTracker
	logs      *events.LogSink
	recogs    *events.RecognitionSink
	actions   *events.ActionSink

	onConfig        func(protocol.ConfigLoadedData)
	onExecutionDone func(success bool, message string)

	logger   *log.Logger
	logLevel LogLevel
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(
	recording *session.RecordingTracker,
	execution *session.ExecutionTracker,
	logs *events.LogSink,
	recogs *events.RecognitionSink,
	actions *events.ActionSink,
	logger *log.Logger,
	logLevel LogLevel,
) *Dispatcher {
	return &Dispatcher{
		guard:     protocol.NewSequenceGuard(),
		recording: recording,
		execution: execution,
		logs:      logs,
		recogs:    recogs,
		actions:   actions,
		logger:    logger,
		logLevel:  logLevel,
	}
}

// SetConfigHandler wires the observer for configuration-loaded events.
// Must be called before Run.
func (d *Dispatcher) SetConfigHandler(fn func(protocol.ConfigLoadedData)) {
	d.onConfig = fn
}

// SetExecutionDoneHandler wires the observer for execution completion.
// Must be called before Run.
func (d *Dispatcher) SetExecutionDoneHandler(fn func(success bool, message string)) {
	d.onExecutionDone = fn
}

// Run drains the event channel until it closes. Events are handled
// strictly in arrival order.
func (d *Dispatcher) Run(ch <-chan protocol.Event) {
	for ev := range ch {
		d.handle(ev)
	}
	d.log(LogLevelDebug, "event stream closed")
}

func (d *Dispatcher) handle(ev protocol.Event) {
	// Each engine generation numbers its events from 1 again.
	if ev.Name == protocol.EventReady {
		d.guard.Reset()
	}
	// A regressed sequence marks a stale or duplicated message; it is
	// logged but never applied. Synthesized crash events carry sequence
	// 0 and pass the guard unconditionally.
	if err := d.guard.Check(ev.Sequence); err != nil {
		d.log(LogLevelWarn, "sequence_regression event=%s %v, dropped", ev.Name, err)
		return
	}

	ts := ev.Time()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	switch ev.Name {
	case protocol.EventReady:
		d.log(LogLevelInfo, "event=ready seq=%d", ev.Sequence)

	case protocol.EventConfigLoaded:
		var data protocol.ConfigLoadedData
		if !d.decode(ev, &data) {
			return
		}
		if d.onConfig != nil {
			d.onConfig(data)
		}
		d.logs.Append(ts, model.SeverityInfo, fmt.Sprintf(
			"configuration loaded: %s (states=%d processes=%d images=%d)",
			data.Name, data.States, data.Processes, data.Images))

	case protocol.EventExecutionStarted:
		var data protocol.ExecutionStartedData
		if !d.decode(ev, &data) {
			return
		}
		if err := d.execution.HandleStarted(ts, data.ProcessID); err != nil {
			d.log(LogLevelWarn, "execution_started rejected: %v", err)
			return
		}
		d.logs.Append(ts, model.SeverityInfo, fmt.Sprintf("execution started: %s (mode=%s)", data.ProcessID, data.Mode))

	case protocol.EventExecutionCompleted:
		var data protocol.ExecutionCompletedData
		if !d.decode(ev, &data) {
			return
		}
		d.execution.HandleCompleted()
		severity := model.SeveritySuccess
		if !data.Success {
			severity = model.SeverityError
		}
		d.logs.Append(ts, severity, fmt.Sprintf("execution completed: %s", data.Message))
		if d.onExecutionDone != nil {
			d.onExecutionDone(data.Success, data.Message)
		}

	case protocol.EventProcessStarted:
		var data protocol.ProcessLifecycleData
		if !d.decode(ev, &data) {
			return
		}
		d.logs.Append(ts, model.SeverityInfo, fmt.Sprintf("process started: %s", data.ProcessID))

	case protocol.EventProcessCompleted:
		var data protocol.ProcessLifecycleData
		if !d.decode(ev, &data) {
			return
		}
		d.logs.Append(ts, model.SeverityInfo, fmt.Sprintf("process completed: %s", data.ProcessID))

	case protocol.EventImageRecognition:
		var data protocol.ImageRecognitionData
		if !d.decode(ev, &data) {
			return
		}
		d.recogs.Append(model.RecognitionEntry{
			Timestamp:  ts,
			Pattern:    data.Pattern,
			Confidence: data.Confidence,
			Matched:    data.Matched,
			Location:   data.Location,
		})

	case protocol.EventActionExecution:
		var data protocol.ActionExecutionData
		if !d.decode(ev, &data) {
			return
		}
		d.actions.Append(model.ActionEntry{
			Timestamp:  ts,
			ActionType: data.ActionType,
			Target:     data.Target,
			Success:    data.Success,
			DurationMs: data.DurationMs,
		})

	case protocol.EventRecordingStarted:
		var data protocol.RecordingStartedData
		if !d.decode(ev, &data) {
			return
		}
		if err := d.recording.HandleStarted(ts, data.SnapshotDirectory); err != nil {
			d.log(LogLevelWarn, "recording_started rejected: %v", err)
			return
		}
		d.logs.Append(ts, model.SeverityInfo, fmt.Sprintf("recording started: %s", data.SnapshotDirectory))

	case protocol.EventRecordingStopped:
		var data protocol.RecordingStoppedData
		if !d.decode(ev, &data) {
			return
		}
		d.recording.HandleStopped(ts, data.SnapshotDirectory, statsFromWire(data.Statistics))
		d.logs.Append(ts, model.SeverityInfo, fmt.Sprintf("recording stopped: %s", data.SnapshotDirectory))

	case protocol.EventLog:
		var data protocol.LogData
		if !d.decode(ev, &data) {
			return
		}
		d.logs.Append(ts, model.ParseSeverity(data.Level), data.Message)

	case protocol.EventError:
		var data protocol.ErrorData
		if !d.decode(ev, &data) {
			return
		}
		d.logs.Append(ts, model.SeverityError, data.Message)
		if data.Traceback != "" {
			d.log(LogLevelDebug, "engine_traceback %s", data.Traceback)
		}

	case protocol.EventEngineCrashed:
		var data protocol.EngineCrashedData
		if !d.decode(ev, &data) {
			return
		}
		d.recording.HandleCrash(ts)
		d.execution.HandleCrash()
		d.logs.Append(ts, model.SeverityError, fmt.Sprintf("engine process crashed (exit code %d)", data.ExitCode))

	default:
		d.log(LogLevelDebug, "unhandled_event name=%s seq=%d", ev.Name, ev.Sequence)
		d.logs.Append(ts, model.SeverityDebug, fmt.Sprintf("unhandled engine event: %s", ev.Name))
	}
}

// decode unmarshals the event payload; a malformed payload is logged
// and the event dropped without disturbing the stream.
func (d *Dispatcher) decode(ev protocol.Event, out any) bool {
	if err := ev.DecodeData(out); err != nil {
		d.log(LogLevelWarn, "malformed_event name=%s seq=%d %v", ev.Name, ev.Sequence, err)
		return false
	}
	return true
}

func statsFromWire(stats *protocol.RecordingStats) *model.RecordingStatistics {
	if stats == nil {
		return nil
	}
	return &model.RecordingStatistics{
		Actions:     stats.Actions,
		Screenshots: stats.Screenshots,
		Patterns:    stats.Patterns,
	}
}

func (d *Dispatcher) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
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
	d.logger.Printf("%s %s dispatcher: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
