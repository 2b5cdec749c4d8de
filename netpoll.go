package evhub

import "fmt"

const defEventsBufferSize = 32

const (
	blocked  = -1
	nonblock = 0
)

// Interest is the portable readiness mask. Backends translate it to
// and from the native epoll/kevent representation.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
	Errored
)

func (i Interest) String() string {
	s := ""
	if i&Readable != 0 {
		s += "r"
	}
	if i&Writable != 0 {
		s += "w"
	}
	if i&Errored != 0 {
		s += "e"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Backend names accepted in HubConfig.Backend. The empty string picks
// the native backend of the host platform.
const (
	BackendEpoll       = "epoll"
	BackendKqueue      = "kqueue"
	BackendQueueSocket = "queue-socket"
)

// Poller is the OS-facility wrapper reporting descriptor readiness.
// All backends present level-triggered semantics: a still-ready
// descriptor is reported again on the next wait until consumed.
//
// A Poller is owned and mutated by a single hub thread; none of its
// methods are safe for concurrent use.
type Poller interface {
	// Add registers fd for the given interest set.
	Add(fd int, interest Interest) error
	// Mod replaces the interest set of an already-registered fd.
	Mod(fd int, interest Interest) error
	// Delete removes fd from the poller.
	Delete(fd int) error
	// WaitForEvents blocks up to msec milliseconds (0 polls without
	// blocking, negative blocks until an event arrives) and invokes
	// callback for every ready descriptor. It returns the number of
	// events handled. An interrupted wait counts as zero events.
	WaitForEvents(msec int, callback func(fd int, interest Interest)) (int, error)
	Close() error
}

func openBackend(config HubConfig) (Poller, error) {
	bufferSize := config.EventBufferSize
	switch config.Backend {
	case "", nativeBackend:
		return openPoller(bufferSize)
	case BackendQueueSocket:
		return openQueuePoller(bufferSize, config.QueueEndpoints)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBackendUnavailable, config.Backend)
	}
}
