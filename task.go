package evhub

import (
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

type TaskState int32

const (
	TaskRunnable TaskState = iota
	TaskWaiting
	TaskDead
)

func (s TaskState) String() string {
	switch s {
	case TaskRunnable:
		return "runnable"
	case TaskWaiting:
		return "waiting"
	case TaskDead:
		return "dead"
	}
	return "unknown"
}

// taskUnwind is the panic value used to unwind a canceled task's
// goroutine. The trampoline recovers it; user code never sees it
// unless it recovers indiscriminately.
type taskUnwind struct{}

// Task is a cooperatively scheduled unit of suspendable work. Its
// continuation is a goroutine parked on a resume channel; the hub
// hands control to exactly one continuation at a time, so task code
// may touch hub state freely while it runs.
//
// A task is pinned to the hub that spawned it for its whole life and
// must only be operated on from that hub's thread.
type Task struct {
	id          uint64
	hub         *Hub
	state       *atomic.Int32
	resume      chan Outcome
	ws          *waitSet
	pending     Outcome
	canceled    bool
	suspendedAt time.Time
}

func (t *Task) ID() uint64 {
	return t.id
}

func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

func (t *Task) Hub() *Hub {
	return t.hub
}

func (t *Task) trampoline(fn func(*Task)) {
	kick := <-t.resume
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(taskUnwind); !ok {
				log.Error().Msgf("[task %d] continuation panicked: %+v", t.id, r)
			}
		}
		t.hub.finishTask(t)
		t.hub.yield <- struct{}{}
	}()
	if kick.unwind {
		return
	}
	fn(t)
}

// Suspend blocks the task on the given conditions until the first one
// is satisfied, and reports which one fired and with what result. It
// is the only suspension primitive; "readiness or timeout" is a
// two-condition wait, not a special API.
//
// Scheduling misuse (no conditions, a duplicate descriptor interest,
// calling from outside the running continuation) is reported
// immediately with Index -1 and without suspending.
func (t *Task) Suspend(conds ...Condition) Outcome {
	h := t.hub
	if h.current != t {
		return Outcome{Index: -1, Err: ErrSuspendOutsideTask}
	}
	if t.State() == TaskDead {
		return Outcome{Index: -1, Err: ErrTaskDead}
	}
	if t.canceled {
		panic(taskUnwind{})
	}
	ws, err := newWaitSet(t, conds)
	if err != nil {
		return Outcome{Index: -1, Err: err}
	}
	if index, err := h.arm(ws); err != nil {
		return Outcome{Index: index, Err: err}
	}
	// A condition may have been satisfiable during arming (pre-fired
	// signal); the set is then already resolved and the task already
	// queued, so it only yields for one loop turn.
	if !ws.resolved {
		t.ws = ws
		t.state.Store(int32(TaskWaiting))
	}
	t.suspendedAt = time.Now()
	h.stats.suspended.Inc()
	if h.observer != nil {
		h.observer.TaskSuspended(t.id, len(conds))
	}
	h.yield <- struct{}{}
	out := <-t.resume
	if out.unwind {
		panic(taskUnwind{})
	}
	h.stats.resumed.Inc()
	if h.observer != nil {
		h.observer.TaskResumed(t.id, out.Index, time.Since(t.suspendedAt))
	}
	return out
}
