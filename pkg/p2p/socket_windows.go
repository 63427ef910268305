//go:build windows
// +build windows

package p2p

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// SO_EXCLUSIVEADDRUSE is defined as ~SO_REUSEADDR in winsock2.h
const soExclusiveAddrUse = ^windows.SO_REUSEADDR

// setSocketReuseAddr is the Windows side of the unix helper. SO_REUSEADDR
// on Windows lets a second socket steal a port that is still in use, so the
// exclusive flag is set instead to keep port collisions visible.
func setSocketReuseAddr(network, address string, c syscall.RawConn) error {
	var setSockOptErr error
	err := c.Control(func(fd uintptr) {
		setSockOptErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, soExclusiveAddrUse, 1)
	})
	if err != nil {
		return err
	}
	return setSockOptErr
}
