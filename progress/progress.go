// Package progress implements ProgressBus: bounded per-session event
// queues that a subscriber drains in FIFO order, closed by an explicit
// terminal sentinel or by inactivity timeout. Grounded on the teacher's
// runtime/agent/hooks.Bus for the mutex-guarded registration map, adapted
// from a synchronous fan-out bus to a pull-model bounded queue per
// session since progress events are consumed by one subscriber at a time.
package progress

import (
	"context"
	"sync"
	"time"
)

// Kind enumerates the progress event kinds the core emits.
type Kind string

const (
	KindStatus           Kind = "status"
	KindPlanReady        Kind = "plan_ready"
	KindStepStart        Kind = "step_start"
	KindStepDone         Kind = "step_done"
	KindStepError        Kind = "step_error"
	KindTaskStart        Kind = "task_start"
	KindToolSelection    Kind = "tool_selection"
	KindMetadataAnalysis Kind = "metadata_analysis"
	KindPlanGeneration   Kind = "plan_generation"
	KindPlanExecution    Kind = "plan_execution"
)

// Event is one unit of progress published to a session's queue.
type Event struct {
	Kind        Kind           `json:"kind"`
	Timestamp   time.Time      `json:"timestamp"`
	Status      string         `json:"status"`
	StepID      *int           `json:"step_id,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	Description string         `json:"description,omitempty"`
	Error       string         `json:"error,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	terminal    bool
}

type session struct {
	queue        chan Event
	lastActivity time.Time
}

// Options configures queue sizing and inactivity cleanup.
type Options struct {
	QueueSize         int
	InactivityTimeout time.Duration
}

// Bus holds one bounded queue per session_id.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*session
	opts     Options
}

// New returns a Bus.
func New(opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 60 * time.Second
	}
	return &Bus{sessions: make(map[string]*session), opts: opts}
}

func (b *Bus) getOrCreate(sessionID string) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		s = &session{queue: make(chan Event, b.opts.QueueSize), lastActivity: time.Now()}
		b.sessions[sessionID] = s
	}
	return s
}

// Publish delivers event to sessionID's queue, creating the session
// implicitly if it does not yet exist. A full queue drops the oldest
// unread event to make room, since progress events are a best-effort
// stream, not a durable log.
func (b *Bus) Publish(sessionID string, event Event) {
	event.Timestamp = timeNow()
	s := b.getOrCreate(sessionID)
	for {
		select {
		case s.queue <- event:
			return
		default:
			select {
			case <-s.queue:
			default:
			}
		}
	}
}

// Close enqueues a terminal sentinel for sessionID. The session is removed
// once the subscriber drains it via Next.
func (b *Bus) Close(sessionID string) {
	s := b.getOrCreate(sessionID)
	select {
	case s.queue <- Event{terminal: true, Timestamp: timeNow()}:
	default:
		// Queue full of unread events; force the sentinel through by
		// dropping the oldest entry, since Close must not be lost.
		select {
		case <-s.queue:
		default:
		}
		s.queue <- Event{terminal: true, Timestamp: timeNow()}
	}
}

// Next blocks until an event is available for sessionID, the inactivity
// timeout elapses, or ctx is cancelled. ok is false once the terminal
// sentinel has been consumed or the session has been reaped; callers stop
// consuming at that point.
func (b *Bus) Next(ctx context.Context, sessionID string) (Event, bool) {
	b.mu.Lock()
	s, exists := b.sessions[sessionID]
	b.mu.Unlock()
	if !exists {
		return Event{}, false
	}

	select {
	case ev, open := <-s.queue:
		if !open {
			return Event{}, false
		}
		b.touch(sessionID)
		if ev.terminal {
			b.remove(sessionID)
			return Event{}, false
		}
		return ev, true
	case <-time.After(b.opts.InactivityTimeout):
		b.remove(sessionID)
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (b *Bus) touch(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[sessionID]; ok {
		s.lastActivity = time.Now()
	}
}

func (b *Bus) remove(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// ReapInactive removes sessions whose last activity predates
// the configured inactivity timeout. Callers run this periodically; the
// Bus does not start its own ticker.
func (b *Bus) ReapInactive() {
	cutoff := time.Now().Add(-b.opts.InactivityTimeout)
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		if s.lastActivity.Before(cutoff) {
			delete(b.sessions, id)
		}
	}
}

func timeNow() time.Time { return time.Now() }
