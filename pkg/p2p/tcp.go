package p2p

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// RPC is one decoded inbound frame. Err is set for a message that could not
// be parsed but did not break the stream.
type RPC struct {
	From    string
	Payload Payload
	Err     error
}

// ConnOptions configure a Conn.
type ConnOptions struct {
	MaxMessageSize uint32
	WriteTimeout   time.Duration // 0 means no write deadline
}

// Conn is a framed message connection. A background read loop decodes frames
// into a channel so callers can poll it with a timeout instead of putting
// deadlines on a half-read frame.
type Conn struct {
	net.Conn
	ConnOptions

	writeMu   sync.Mutex
	rpcCh     chan RPC
	quit      chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

func NewConn(conn net.Conn, opts ConnOptions) *Conn {
	c := &Conn{
		Conn:        conn,
		ConnOptions: opts,
		rpcCh:       make(chan RPC, 1024),
		quit:        make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Consume returns the inbound channel. It is closed when the read loop stops;
// Err then says why.
func (c *Conn) Consume() <-chan RPC {
	return c.rpcCh
}

// Send writes one framed message. Safe for concurrent use.
func (c *Conn) Send(p Payload) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.WriteTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout)); err != nil {
			return err
		}
	}
	return Encode(c.Conn, p)
}

// Receive waits up to timeout for the next message. It returns ErrTimeout if
// nothing arrived, ErrClosed once the stream is gone, and a *MalformedError
// for a message that could not be parsed.
func (c *Conn) Receive(timeout time.Duration) (Payload, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rpc, ok := <-c.rpcCh:
		if !ok {
			return nil, c.closedErr()
		}
		return rpc.Payload, rpc.Err
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Poll is the non-blocking form of Receive; ok is false if nothing is queued.
func (c *Conn) Poll() (p Payload, ok bool, err error) {
	select {
	case rpc, open := <-c.rpcCh:
		if !open {
			return nil, false, c.closedErr()
		}
		return rpc.Payload, true, rpc.Err
	default:
		return nil, false, nil
	}
}

// Err is the reason the read loop stopped, nil while it is still running or
// after a clean hangup.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.quit)
		err = c.Conn.Close()
	})
	return err
}

func (c *Conn) closedErr() error {
	if err := c.Err(); err != nil {
		return errors.Join(ErrClosed, err)
	}
	return ErrClosed
}

func (c *Conn) readLoop() {
	defer close(c.rpcCh)

	from := c.Conn.RemoteAddr().String()
	for {
		p, err := Decode(c.Conn, c.MaxMessageSize)
		if err != nil {
			var me *MalformedError
			if errors.As(err, &me) && !me.Fatal {
				if !c.deliver(RPC{From: from, Err: err}) {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.errMu.Lock()
				c.readErr = err
				c.errMu.Unlock()
			}
			return
		}
		if !c.deliver(RPC{From: from, Payload: p}) {
			return
		}
	}
}

func (c *Conn) deliver(rpc RPC) bool {
	select {
	case c.rpcCh <- rpc:
		return true
	case <-c.quit:
		return false
	}
}
