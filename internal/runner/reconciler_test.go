package runner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/msageha/baton/internal/model"
	"github.com/msageha/baton/internal/protocol"
	"github.com/msageha/baton/internal/session"
)

type fakeStatusClient struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
	resp  *protocol.Response
}

func (c *fakeStatusClient) Request(ctx context.Context, name string, params any) (*protocol.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func (c *fakeStatusClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func recordingStatusResponse(t *testing.T, isRecording bool, stats *protocol.RecordingStats) *protocol.Response {
	t.Helper()
	data, err := json.Marshal(protocol.RecordingStatusData{IsRecording: isRecording, Statistics: stats})
	if err != nil {
		t.Fatalf("marshal status: %v", err)
	}
	return &protocol.Response{Type: protocol.TypeResponse, ID: "r1", Success: true, Data: data}
}

func newTestReconciler(t *testing.T, client StatusClient, pollTimeoutSec int) (*Reconciler, *session.RecordingTracker) {
	t.Helper()
	tracker := session.NewRecordingTracker(session.NewHistory(t.TempDir(), 5))
	cfg := model.ReconcileConfig{PollIntervalSec: 1, PollTimeoutSec: pollTimeoutSec}
	recon := NewReconciler(cfg, client, tracker, log.New(io.Discard, "", 0), LogLevelError)
	return recon, tracker
}

func startRecordingSession(t *testing.T, tracker *session.RecordingTracker) {
	t.Helper()
	if err := tracker.HandleStarted(time.Now().UTC(), "/tmp/recordings/run-1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
}

func TestReconciler_PollOverwritesCounters(t *testing.T) {
	client := &fakeStatusClient{
		resp: recordingStatusResponse(t, true, &protocol.RecordingStats{Actions: 5, Screenshots: 9, Patterns: 1}),
	}
	recon, tracker := newTestReconciler(t, client, 3)
	startRecordingSession(t, tracker)

	recon.poll(context.Background())

	got := tracker.Status()
	if got.State != model.RecordingStateRecording {
		t.Fatalf("expected recording state, got %s", got.State)
	}
	if got.Statistics == nil || got.Statistics.Actions != 5 || got.Statistics.Screenshots != 9 {
		t.Errorf("expected polled counters applied, got %+v", got.Statistics)
	}
}

func TestReconciler_PollFailureRetainsState(t *testing.T) {
	client := &fakeStatusClient{err: errors.New("pipe closed")}
	recon, tracker := newTestReconciler(t, client, 3)
	startRecordingSession(t, tracker)
	tracker.ApplyPollResult(true, &model.RecordingStatistics{Actions: 7})

	recon.poll(context.Background())

	got := tracker.Status()
	if got.State != model.RecordingStateRecording {
		t.Errorf("expected state retained on poll failure, got %s", got.State)
	}
	if got.Statistics == nil || got.Statistics.Actions != 7 {
		t.Errorf("expected counters retained on poll failure, got %+v", got.Statistics)
	}
}

func TestReconciler_NotRecordingFinalizes(t *testing.T) {
	client := &fakeStatusClient{resp: recordingStatusResponse(t, false, nil)}
	recon, tracker := newTestReconciler(t, client, 3)
	startRecordingSession(t, tracker)

	recon.poll(context.Background())

	if got := tracker.Status().State; got != model.RecordingStateStopped {
		t.Errorf("expected session finalized when engine reports idle, got %s", got)
	}
}

func TestReconciler_SingleflightCollapsesConcurrentFetches(t *testing.T) {
	client := &fakeStatusClient{
		delay: 200 * time.Millisecond,
		resp:  recordingStatusResponse(t, true, nil),
	}
	recon, _ := newTestReconciler(t, client, 3)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = recon.FetchRecordingStatus(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("fetch %d: %v", i, err)
		}
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("expected concurrent fetches to collapse into 1 request, got %d", got)
	}
}

func TestReconciler_RequestTimeout(t *testing.T) {
	client := &fakeStatusClient{delay: 5 * time.Second}
	recon, _ := newTestReconciler(t, client, 1)

	_, err := recon.FetchRecordingStatus(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var pollErr *PollError
	if !errors.As(err, &pollErr) {
		t.Fatalf("expected *PollError, got %T", err)
	}
	if !pollErr.Timeout {
		t.Errorf("expected timeout flag set: %v", pollErr)
	}
}

func TestReconciler_EngineFailureResponse(t *testing.T) {
	client := &fakeStatusClient{
		resp: &protocol.Response{Type: protocol.TypeResponse, ID: "r2", Success: false, Error: "engine busy"},
	}
	recon, _ := newTestReconciler(t, client, 3)

	_, err := recon.FetchRecordingStatus(context.Background())
	if err == nil {
		t.Fatal("expected error for failure response")
	}
	var pollErr *PollError
	if !errors.As(err, &pollErr) {
		t.Fatalf("expected *PollError, got %T", err)
	}
	if pollErr.Timeout {
		t.Error("expected non-timeout failure")
	}
}

func TestReconciler_StopFromInsidePoll(t *testing.T) {
	// The engine answering "not recording" finalizes the session, which
	// stops the poller from the poll goroutine itself. That must not
	// deadlock.
	client := &fakeStatusClient{resp: recordingStatusResponse(t, false, nil)}
	recon, tracker := newTestReconciler(t, client, 3)
	tracker.SetPoller(recon)
	startRecordingSession(t, tracker)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if tracker.Status().State == model.RecordingStateStopped {
			recon.Stop()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("session never finalized; poller appears stuck")
}

func TestReconciler_StartStopIdempotent(t *testing.T) {
	client := &fakeStatusClient{resp: recordingStatusResponse(t, true, nil)}
	recon, _ := newTestReconciler(t, client, 3)

	recon.Start()
	recon.Start()
	recon.Stop()
	recon.Stop()
}
