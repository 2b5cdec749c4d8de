package evhub

import (
	"errors"
	"fmt"
)

// Scheduling errors. These indicate a bug in a collaborator and are
// returned from the call site immediately, never deferred.
var (
	ErrEmptyWaitSet       = errors.New("wait set must contain at least one condition")
	ErrDuplicateCondition = errors.New("duplicate descriptor interest in one wait set")
	ErrTaskDead           = errors.New("operation on a dead task")
	ErrSuspendOutsideTask = errors.New("suspend called outside the running task")
	ErrForeignSignal      = errors.New("signal token belongs to another hub")
)

var (
	// ErrPollFailure is fatal to the owning hub: the poller state can no
	// longer be trusted. Every waiting task observes it at its next
	// resumption before the hub shuts down.
	ErrPollFailure = errors.New("poller wait failed")

	// ErrWakeQueueFull is recoverable; the caller backs off and retries.
	ErrWakeQueueFull = errors.New("cross-thread wake queue is full")

	ErrBackendUnavailable = errors.New("poller backend not available on this platform")
	ErrHubStopped         = errors.New("hub is stopped")
)

var errNotPollable = errors.New("connection is not backed by a pollable descriptor")
var errDescriptorHangup = errors.New("descriptor closed or errored")

// DescriptorError reports a per-descriptor backend failure, e.g. a
// descriptor closed underfoot. It resolves only the conditions
// referencing that descriptor; the hub keeps running.
type DescriptorError struct {
	Fd  int
	Op  string
	Err error
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("descriptor %d: %s: %v", e.Fd, e.Op, e.Err)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}
