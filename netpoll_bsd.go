//go:build darwin || freebsd
// +build darwin freebsd

package evhub

import (
	"math"
	"os"
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const nativeBackend = BackendKqueue

// kevent filters are level-triggered by default (no EV_CLEAR), which
// is exactly the contract the hub expects from every backend.
type kqueuePoller struct {
	fd     int
	events []unix.Kevent_t
}

func openPoller(eventsBufferSize int) (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(fd)
	bufferSize := int(math.Max(float64(eventsBufferSize), defEventsBufferSize))
	return &kqueuePoller{
		fd:     fd,
		events: make([]unix.Kevent_t, bufferSize),
	}, nil
}

func (p *kqueuePoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *kqueuePoller) Add(fd int, interest Interest) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] add %s kqueue", fd, interest)
	}
	return p.apply(fd, interest)
}

func (p *kqueuePoller) Mod(fd int, interest Interest) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] mod %s kqueue", fd, interest)
	}
	return p.apply(fd, interest)
}

// apply reconciles both filters with the wanted interest set. Adding
// an existing filter is a no-op for kqueue, deleting an absent one
// reports ENOENT which is ignored here.
func (p *kqueuePoller) apply(fd int, interest Interest) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: filterFlags(interest&Readable != 0)},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: filterFlags(interest&Writable != 0)},
	}
	for _, change := range changes {
		_, err := unix.Kevent(p.fd, []unix.Kevent_t{change}, nil, nil)
		if err != nil && !(change.Flags&unix.EV_DELETE != 0 && err == unix.ENOENT) {
			return &DescriptorError{Fd: fd, Op: "kevent change", Err: err}
		}
	}
	return nil
}

func (p *kqueuePoller) Delete(fd int) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] delete kqueue", fd)
	}
	return p.apply(fd, 0)
}

func (p *kqueuePoller) WaitForEvents(msec int, callback func(fd int, interest Interest)) (int, error) {
	var ts *unix.Timespec
	if msec >= 0 {
		t := unix.NsecToTimespec(int64(msec) * 1e6)
		ts = &t
	}
	evCount, err := unix.Kevent(p.fd, nil, p.events, ts)
	if evCount == 0 || (evCount < 0 && err == unix.EINTR) {
		runtime.Gosched()
		return 0, nil
	} else if err != nil {
		return 0, os.NewSyscallError("kevent", err)
	}
	for i := 0; i < evCount; i++ {
		event := p.events[i]
		var interest Interest
		switch event.Filter {
		case unix.EVFILT_READ:
			interest |= Readable
		case unix.EVFILT_WRITE:
			interest |= Writable
		}
		if event.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			interest |= Errored
		}
		callback(int(event.Ident), interest)
	}
	return evCount, nil
}

func filterFlags(enabled bool) uint16 {
	if enabled {
		return unix.EV_ADD | unix.EV_ENABLE
	}
	return unix.EV_DELETE
}
