//go:build !windows

package p2p

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSocketReuseAddr sets SO_REUSEADDR so a port left in TIME_WAIT by an
// earlier session can be bound again right away.
// SO_REUSEPORT is left off on purpose: with it two listeners could share a
// port and BindRandomPort would never see the collision.
func setSocketReuseAddr(network, address string, c syscall.RawConn) error {
	var setSockOptErr error
	err := c.Control(func(fd uintptr) {
		setSockOptErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return setSockOptErr
}
