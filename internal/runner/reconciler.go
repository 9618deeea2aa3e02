package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/baton/internal/model"
	"github.com/msageha/baton/internal/protocol"
	"github.com/msageha/baton/internal/session"
)

// StatusClient issues correlated engine requests.
type StatusClient interface {
	Request(ctx context.Context, name string, params any) (*protocol.Response, error)
}

// Reconciler periodically fetches authoritative recording status while
// a recording is active and reconciles the tracker with the answer.
// Concurrent status fetches collapse into a single in-flight engine
// request.
type Reconciler struct {
	interval time.Duration
	timeout  time.Duration
	client   StatusClient
	tracker  *session.RecordingTracker
	group    singleflight.Group

	logger   *log.Logger
	logLevel LogLevel

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewReconciler creates a new Reconciler.
func NewReconciler(
	cfg model.ReconcileConfig,
	client StatusClient,
	tracker *session.RecordingTracker,
	logger *log.Logger,
	logLevel LogLevel,
) *Reconciler {
	interval := time.Duration(cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := time.Duration(cfg.PollTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Reconciler{
		interval: interval,
		timeout:  timeout,
		client:   client,
		tracker:  tracker,
		logger:   logger,
		logLevel: logLevel,
	}
}

// Start begins the poll loop. Idempotent.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx)
	r.log(LogLevelDebug, "poll_loop_started interval=%s", r.interval)
}

// Stop cancels the poll loop without waiting for it to unwind, so the
// tracker may call it from inside a poll. Idempotent.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	r.log(LogLevelDebug, "poll_loop_stopped")
}

func (r *Reconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Reconciler) poll(ctx context.Context) {
	data, err := r.FetchRecordingStatus(ctx)
	if err != nil {
		r.log(LogLevelWarn, "poll_failed %v, retaining tracked state", err)
		return
	}
	r.tracker.ApplyPollResult(data.IsRecording, statsFromWire(data.Statistics))
}

// FetchRecordingStatus asks the engine for authoritative recording
// status, bounded by the poll timeout.
func (r *Reconciler) FetchRecordingStatus(ctx context.Context) (*protocol.RecordingStatusData, error) {
	v, err, _ := r.group.Do(protocol.CommandRecordingStatus, func() (any, error) {
		var data protocol.RecordingStatusData
		if err := r.request(ctx, protocol.CommandRecordingStatus, &data); err != nil {
			return nil, err
		}
		return &data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*protocol.RecordingStatusData), nil
}

// FetchEngineStatus asks the engine for its top-level status.
func (r *Reconciler) FetchEngineStatus(ctx context.Context) (*protocol.StatusData, error) {
	v, err, _ := r.group.Do(protocol.CommandStatus, func() (any, error) {
		var data protocol.StatusData
		if err := r.request(ctx, protocol.CommandStatus, &data); err != nil {
			return nil, err
		}
		return &data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*protocol.StatusData), nil
}

func (r *Reconciler) request(ctx context.Context, command string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Request(reqCtx, command, nil)
	if err != nil {
		return &PollError{Timeout: errors.Is(err, context.DeadlineExceeded), Err: err}
	}
	if !resp.Success {
		return &PollError{Err: errors.New(resp.Error)}
	}
	if err := resp.DecodeData(out); err != nil {
		return &PollError{Err: err}
	}
	return nil
}

func (r *Reconciler) log(level LogLevel, format string, args ...any) {
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
	r.logger.Printf("%s %s reconciler: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
