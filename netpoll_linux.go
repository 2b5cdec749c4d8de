//go:build linux
// +build linux

package evhub

import (
	"math"
	"os"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const nativeBackend = BackendEpoll

// Deliberately without EPOLLET: the hub contract is level-triggered, a
// still-ready descriptor must be reported again on the next wait.
const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents = unix.EPOLLOUT
	errorEvents = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
)

type epollPoller struct {
	fd     int
	events []unix.EpollEvent
}

func openPoller(eventsBufferSize int) (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	bufferSize := int(math.Max(float64(eventsBufferSize), defEventsBufferSize))
	return &epollPoller{
		fd:     fd,
		events: make([]unix.EpollEvent, bufferSize),
	}, nil
}

func (p *epollPoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *epollPoller) Add(fd int, interest Interest) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] add %s epoll", fd, interest)
	}
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: epollEvents(interest)})
	if err != nil {
		return &DescriptorError{Fd: fd, Op: "epoll_ctl add", Err: err}
	}
	return nil
}

func (p *epollPoller) Mod(fd int, interest Interest) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] mod %s epoll", fd, interest)
	}
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: epollEvents(interest)})
	if err != nil {
		return &DescriptorError{Fd: fd, Op: "epoll_ctl mod", Err: err}
	}
	return nil
}

func (p *epollPoller) Delete(fd int) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] delete epoll", fd)
	}
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil {
		return &DescriptorError{Fd: fd, Op: "epoll_ctl del", Err: err}
	}
	return nil
}

func (p *epollPoller) WaitForEvents(msec int, callback func(fd int, interest Interest)) (int, error) {
	evCount, err := epollWait(p.fd, p.events, msec)
	if evCount == 0 || (evCount < 0 && err == unix.EINTR) {
		runtime.Gosched()
		return 0, nil
	} else if err != nil {
		return 0, os.NewSyscallError("epoll_pwait", err)
	}
	for i := 0; i < evCount; i++ {
		event := p.events[i]
		callback(int(event.Fd), fromEpollEvents(event.Events))
	}
	return evCount, nil
}

func epollEvents(interest Interest) uint32 {
	var events uint32
	if interest&Readable != 0 {
		events |= readEvents
	}
	if interest&Writable != 0 {
		events |= writeEvents
	}
	if interest&Errored != 0 {
		events |= errorEvents
	}
	return events
}

func fromEpollEvents(events uint32) Interest {
	var interest Interest
	if events&readEvents != 0 {
		interest |= Readable
	}
	if events&writeEvents != 0 {
		interest |= Writable
	}
	if events&errorEvents != 0 {
		interest |= Errored
	}
	return interest
}

func epollWait(epfd int, events []unix.EpollEvent, msec int) (n int, err error) {
	var r0 uintptr
	var _p0 = unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = syscall.RawSyscall6(syscall.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(_p0), uintptr(len(events)), 0, 0, 0)
	} else {
		r0, _, err = syscall.Syscall6(syscall.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(_p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == syscall.Errno(0) {
		err = nil
	}
	return int(r0), err
}
