package p2p

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"time"
)

// Listen opens a TCP listener with the socket options from setSocketReuseAddr.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: setSocketReuseAddr}
	return lc.Listen(ctx, "tcp", addr)
}

// BindRandomPort binds host on a random port in [minPort, maxPort], trying at
// most attempts times. With minPort == 0 the kernel picks the port and a
// single attempt is made.
func BindRandomPort(ctx context.Context, host string, minPort, maxPort, attempts int) (net.Listener, int, error) {
	if minPort == 0 {
		ln, err := Listen(ctx, net.JoinHostPort(host, "0"))
		if err != nil {
			return nil, 0, &PortBindingError{Attempts: 1, Last: err}
		}
		return ln, ln.Addr().(*net.TCPAddr).Port, nil
	}
	if maxPort < minPort {
		return nil, 0, fmt.Errorf("invalid port range %d-%d", minPort, maxPort)
	}
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		port := minPort + rand.IntN(maxPort-minPort+1)
		ln, err := Listen(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			last = err
			continue
		}
		return ln, port, nil
	}
	return nil, 0, &PortBindingError{Attempts: attempts, Last: last}
}

// AcceptTimeout waits at most d for a connection on ln. It returns ErrTimeout
// when nothing was pending.
func AcceptTimeout(ln net.Listener, d time.Duration) (net.Conn, error) {
	if tl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		if err := tl.SetDeadline(time.Now().Add(d)); err != nil {
			return nil, err
		}
	}
	conn, err := ln.Accept()
	if err != nil {
		if IsTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return conn, nil
}
