package p2p

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	// ErrTimeout means nothing arrived in time. It is not a failure; callers
	// use it to go check their mailbox or exit condition.
	ErrTimeout = errors.New("p2p: timed out")

	// ErrClosed is returned once the remote side hung up or Close was called.
	ErrClosed = errors.New("p2p: connection closed")
)

// MalformedError is a classified parse error. Fatal is set when the framing
// itself is broken and the stream can't be resynchronised.
type MalformedError struct {
	Reason string
	Fatal  bool
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Unexpected classifies a well-formed message that is not the one the
// protocol step asked for.
func Unexpected(want Kind, got Payload) error {
	return &MalformedError{Reason: fmt.Sprintf("expected %s, got %s", want, got.Kind())}
}

// PortBindingError is returned when no free port was found after the
// configured number of attempts.
type PortBindingError struct {
	Attempts int
	Last     error
}

func (e *PortBindingError) Error() string {
	return fmt.Sprintf("could not bind a port after %d attempts: %v", e.Attempts, e.Last)
}

func (e *PortBindingError) Unwrap() error { return e.Last }

// IsTimeout reports whether err is a read/accept timeout rather than a failure.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsMalformed reports whether err is a classified parse error.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}
