// Package events carries classified engine activity to UI-layer
// observers: an identity-keyed notification bus plus the append-only
// sinks the dispatcher writes into.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/msageha/baton/internal/model"
)

// NotificationKind discriminates the payload carried by a Notification.
type NotificationKind string

const (
	// KindLog is published for every retained activity-log entry.
	KindLog NotificationKind = "log"
	// KindRecognition is published for each image-recognition attempt.
	KindRecognition NotificationKind = "recognition"
	// KindAction is published for each automation-action attempt.
	KindAction NotificationKind = "action"
	// KindRecording is published when the recording session changes state.
	KindRecording NotificationKind = "recording"
	// KindExecution is published when the execution session changes state.
	KindExecution NotificationKind = "execution"
	// KindProcess is published when the engine process changes state.
	KindProcess NotificationKind = "process"
)

// ProcessChange describes an engine process state transition.
type ProcessChange struct {
	State    model.ProcessState
	ExitCode *int
}

// Notification is the closed union delivered to observers: Kind selects
// which single payload field is set.
type Notification struct {
	Kind        NotificationKind
	Timestamp   time.Time
	Log         *model.LogEntry
	Recognition *model.RecognitionEntry
	Action      *model.ActionEntry
	Recording   *model.RecordingSession
	Execution   *model.ExecutionSession
	Process     *ProcessChange
}

// Observer is the callback invoked for each delivered notification.
type Observer func(Notification)

type observer struct {
	fn     Observer
	ch     chan Notification
	closed atomic.Bool
}

// Bus fans notifications out to registered observers. Registration is
// keyed by observer identity: subscribing an already-registered id is a
// no-op, so delivery is never duplicated. Delivery is asynchronous via
// a buffered channel per observer; when a buffer is full the
// notification is dropped for that observer and counted.
type Bus struct {
	mu         sync.RWMutex
	observers  map[string]*observer
	bufferSize int
	dropped    atomic.Uint64
}

// NewBus creates a bus with the given per-observer buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		observers:  make(map[string]*observer),
		bufferSize: bufferSize,
	}
}

// Subscribe registers fn under id and reports whether a new
// registration was created. Re-subscribing an existing id keeps the
// original registration untouched.
func (b *Bus) Subscribe(id string, fn Observer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.observers[id]; ok {
		return false
	}
	o := &observer{fn: fn, ch: make(chan Notification, b.bufferSize)}
	b.observers[id] = o
	go o.deliver()
	return true
}

// Unsubscribe removes the observer. No new deliveries start after it
// returns; anything still buffered is discarded.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.observers[id]
	if !ok {
		return
	}
	o.closed.Store(true)
	close(o.ch)
	delete(b.observers, id)
}

// Publish sends the notification to every observer without blocking.
// Observers whose buffers are full miss this notification; the drop is
// counted so the condition stays visible.
func (b *Bus) Publish(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, o := range b.observers {
		select {
		case o.ch <- n:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries have been dropped on full
// buffers since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close unsubscribes every observer.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, o := range b.observers {
		o.closed.Store(true)
		close(o.ch)
		delete(b.observers, id)
	}
}

func (o *observer) deliver() {
	for n := range o.ch {
		if o.closed.Load() {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					// An observer panic must not take down delivery.
				}
			}()
			o.fn(n)
		}()
	}
}
