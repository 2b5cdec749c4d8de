package evhub

import (
	"net"
	"syscall"
)

// ConnToFd extracts the pollable descriptor behind a net.Conn so a
// collaborator can wait on it with AwaitRead/AwaitWrite. The caller
// must keep the connection alive while the descriptor is awaited and
// should put it in nonblocking mode before handing it to the hub.
func ConnToFd(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, errNotPollable
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := raw.Control(func(descriptor uintptr) {
		fd = int(descriptor)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}
