package evhub

import "time"

type condKind int

const (
	condReadiness condKind = iota + 1
	condTimer
	condSignal
)

// Condition is one awaitable event inside a wait set: descriptor
// readiness, a timer deadline, or an external signal token.
type Condition struct {
	kind     condKind
	fd       int
	interest Interest
	deadline time.Time
	signal   *SignalToken
}

// AwaitRead waits for fd to become readable.
func AwaitRead(fd int) Condition {
	return Condition{kind: condReadiness, fd: fd, interest: Readable}
}

// AwaitWrite waits for fd to become writable.
func AwaitWrite(fd int) Condition {
	return Condition{kind: condReadiness, fd: fd, interest: Writable}
}

// AwaitDeadline fires once deadline has passed.
func AwaitDeadline(deadline time.Time) Condition {
	return Condition{kind: condTimer, deadline: deadline}
}

// AwaitTimeout fires after d, measured from the call.
func AwaitTimeout(d time.Duration) Condition {
	return Condition{kind: condTimer, deadline: time.Now().Add(d)}
}

// AwaitSignal waits for token to be notified, possibly from another
// thread.
func AwaitSignal(token *SignalToken) Condition {
	return Condition{kind: condSignal, signal: token}
}

// Outcome reports which condition of a wait set fired and how. Err is
// non-nil when the condition resolved with an error outcome, e.g. a
// descriptor closed underfoot or a hub-fatal poll failure.
type Outcome struct {
	Index    int
	Interest Interest
	Err      error
	unwind   bool
}

// waitSet resolves exactly once; the winning condition's siblings are
// retracted from the poller and timer queue before the task resumes.
type waitSet struct {
	task     *Task
	conds    []Condition
	timers   []*timerEntry
	resolved bool
}

func newWaitSet(t *Task, conds []Condition) (*waitSet, error) {
	if len(conds) == 0 {
		return nil, ErrEmptyWaitSet
	}
	for i, c := range conds {
		if c.kind != condReadiness {
			continue
		}
		for _, prev := range conds[:i] {
			if prev.kind == condReadiness && prev.fd == c.fd && prev.interest == c.interest {
				return nil, ErrDuplicateCondition
			}
		}
	}
	return &waitSet{
		task:   t,
		conds:  conds,
		timers: make([]*timerEntry, len(conds)),
	}, nil
}
