package session

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/pkg/errors"
	"MeetingScribe/pkg/metrics"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by EventLog enqueues while the queue is saturated.
	ErrQueueFull = errors.WithCode(errors.CodeTransient, "event queue full")
	// ErrLogStopped is returned by EventLog enqueues after Stop.
	ErrLogStopped = errors.WithCode(errors.CodeInvalidState, "event log stopped")
)

// Record kinds.
const (
	KindEvent = "event"
	KindNote  = "note"
	KindUser  = "user"
)

const defaultRetryDelay = 100 * time.Millisecond

// RecordWriter persists event log records. *store.Store implements it.
type RecordWriter interface {
	InsertEvent(ctx context.Context, ev *models.Event) error
	InsertNote(ctx context.Context, n *models.Note) error
	UpsertUser(ctx context.Context, u *models.User) error
}

type record struct {
	kind  string
	event *models.Event
	note  *models.Note
	user  *models.User
}

// EventLog serializes events, notes and participant rows onto a single
// writer goroutine.
type EventLog struct {
	w          RecordWriter
	log        *zap.Logger
	metrics    *metrics.Metrics
	maxRetries int
	retryDelay time.Duration

	mu     sync.RWMutex // closed + close(ch) vs. enqueue
	closed bool
	ch     chan record

	ctx     context.Context // cancelled when Stop gives up waiting
	abort   context.CancelFunc
	done    chan struct{}
	written atomic.Int64
	lost    atomic.Int64
}

// NewEventLog starts the writer goroutine.
func NewEventLog(w RecordWriter, queueSize, maxRetries int, log *zap.Logger, m *metrics.Metrics) *EventLog {
	if queueSize <= 0 {
		queueSize = 4096
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &EventLog{
		w:          w,
		log:        log,
		metrics:    m,
		maxRetries: maxRetries,
		retryDelay: defaultRetryDelay,
		ch:         make(chan record, queueSize),
		ctx:        ctx,
		abort:      cancel,
		done:       make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *EventLog) EnqueueEvent(ev *models.Event) error { return l.enqueue(record{kind: KindEvent, event: ev}) }

func (l *EventLog) EnqueueNote(n *models.Note) error { return l.enqueue(record{kind: KindNote, note: n}) }

func (l *EventLog) EnqueueUser(u *models.User) error { return l.enqueue(record{kind: KindUser, user: u}) }

func (l *EventLog) enqueue(r record) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLogStopped
	}
	select {
	case l.ch <- r:
		l.metrics.AddEventQueueDepth(1)
		return nil
	default:
		l.metrics.RecordEvent(r.kind, "dropped")
		l.log.Warn("event queue full, record dropped", zap.String("kind", r.kind))
		return ErrQueueFull
	}
}

// Written and Lost count persisted and abandoned records.
func (l *EventLog) Written() int64 { return l.written.Load() }
func (l *EventLog) Lost() int64    { return l.lost.Load() }

// Pending is the number of queued, unwritten records.
func (l *EventLog) Pending() int { return len(l.ch) }

func (l *EventLog) run() {
	defer close(l.done)
	for r := range l.ch {
		l.metrics.AddEventQueueDepth(-1)
		l.persist(r)
	}
}

// persist writes r, retrying retryable failures with doubling backoff. Once
// Stop has given up waiting each record gets a single attempt.
func (l *EventLog) persist(r record) {
	delay := l.retryDelay
	for attempt := 0; ; attempt++ {
		err := l.write(r)
		if err == nil {
			l.written.Add(1)
			l.metrics.RecordEvent(r.kind, "written")
			return
		}
		if !errors.IsRetryable(err) || attempt >= l.maxRetries || l.ctx.Err() != nil {
			n := l.lost.Add(1)
			l.metrics.RecordEvent(r.kind, "lost")
			l.log.Error("event log record lost", zap.String("kind", r.kind), zap.Int("attempts", attempt+1), zap.Int64("lost_total", n), zap.Error(err))
			return
		}
		l.metrics.RecordEventRetry()
		l.log.Warn("event log write failed, retrying", zap.String("kind", r.kind), zap.Duration("backoff", delay), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-l.ctx.Done():
		}
		delay *= 2
	}
}

func (l *EventLog) write(r record) error {
	switch r.kind {
	case KindEvent:
		return l.w.InsertEvent(l.ctx, r.event)
	case KindNote:
		return l.w.InsertNote(l.ctx, r.note)
	case KindUser:
		return l.w.UpsertUser(l.ctx, r.user)
	}
	return errors.Errorf("unknown record kind %q", r.kind)
}

// Stop closes the queue and waits for the writer to persist everything
// enqueued before the call. If ctx expires first, pending retries are
// abandoned, in-flight writes are cancelled and ctx's error is returned.
func (l *EventLog) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		l.abort()
		return nil
	case <-ctx.Done():
	}
	l.abort()
	l.log.Warn("event log drain timed out", zap.Int("pending", len(l.ch)), zap.Int64("lost", l.lost.Load()))
	return errors.WrapCode(ctx.Err(), errors.CodeTransient, "event log drain timed out")
}

// Done is closed once the writer goroutine has exited.
func (l *EventLog) Done() <-chan struct{} { return l.done }

// Wait waits up to d for the writer goroutine to exit. After a timed-out
// Stop the remaining records fail fast, so a short wait lets them be
// counted before the underlying store is closed.
func (l *EventLog) Wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.done:
		return true
	case <-timer.C:
		return false
	}
}
