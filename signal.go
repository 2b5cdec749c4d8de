package evhub

import (
	"sync"

	"go.uber.org/atomic"
)

// SignalToken is a single-shot external wakeup source bound to one
// hub. Notify is the only hub operation that is safe to call from any
// thread; it hands the wake over to the owning hub's inbound queue and
// never touches task or wait-set state directly.
type SignalToken struct {
	id    uint64
	hub   *Hub
	fired *atomic.Bool
}

// NewSignal creates a token owned by h. Safe to call from any thread.
func (h *Hub) NewSignal() *SignalToken {
	return &SignalToken{
		id:    h.signalSeq.Inc(),
		hub:   h,
		fired: atomic.NewBool(false),
	}
}

// Notify fires the token, waking the task waiting on it exactly once.
// Later calls are no-ops. A non-nil err is delivered as the outcome of
// the winning condition. Returns ErrWakeQueueFull when the inbound
// queue is saturated; the token stays unfired so the caller can retry.
func (s *SignalToken) Notify(err error) error {
	if !s.fired.CAS(false, true) {
		return nil
	}
	if qErr := s.hub.inbound.push(wake{token: s.id, err: err}); qErr != nil {
		s.fired.Store(false)
		return qErr
	}
	s.hub.wakeup()
	return nil
}

// Fired reports whether the token has been notified.
func (s *SignalToken) Fired() bool {
	return s.fired.Load()
}

type wake struct {
	token uint64
	err   error
}

// wakeQueue is the only structure mutated across threads: a bounded,
// mutex-guarded MPSC queue drained once per dispatch iteration by the
// owning hub thread.
type wakeQueue struct {
	mu      sync.Mutex
	entries []wake
	limit   int
}

func newWakeQueue(limit int) *wakeQueue {
	if limit <= 0 {
		limit = defWakeQueueSize
	}
	return &wakeQueue{limit: limit}
}

func (q *wakeQueue) push(entry wake) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.limit {
		return ErrWakeQueueFull
	}
	q.entries = append(q.entries, entry)
	return nil
}

func (q *wakeQueue) drain() []wake {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries
	q.entries = nil
	return entries
}
