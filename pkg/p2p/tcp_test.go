package p2p

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestConnReceiveTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	c := NewConn(a, ConnOptions{})
	defer c.Close()

	_, err := c.Receive(20 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) || !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}

	if _, ok, err := c.Poll(); ok || err != nil {
		t.Fatalf("expected empty poll, got ok=%v err=%v", ok, err)
	}
}

func TestConnDeliversInOrderThenCloses(t *testing.T) {
	a, b := net.Pipe()
	c := NewConn(a, ConnOptions{})
	defer c.Close()

	go func() {
		Encode(b, NewPeerJoined{PeerID: 1, Addr: "127.0.0.1", Port: 9000})
		Encode(b, PeerDisconnected{PeerID: 1})
		b.Close()
	}()

	p, err := c.Receive(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(NewPeerJoined); !ok {
		t.Fatalf("expected NewPeerJoined first, got %T", p)
	}

	p, err = c.Receive(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(PeerDisconnected); !ok {
		t.Fatalf("expected PeerDisconnected second, got %T", p)
	}

	if _, err := c.Receive(time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after hangup, got %v", err)
	}
}

func TestConnSend(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	c := NewConn(a, ConnOptions{WriteTimeout: time.Second})
	defer c.Close()

	done := make(chan Payload, 1)
	go func() {
		p, _ := Decode(b, 0)
		done <- p
	}()

	if err := c.Send(PortAssignment{Port: 20001}); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-done:
		if got, ok := p.(PortAssignment); !ok || got.Port != 20001 {
			t.Fatalf("unexpected payload %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing decoded on the other side")
	}
}

func TestBindRandomPortKernelPicked(t *testing.T) {
	ln, port, err := BindRandomPort(context.Background(), "127.0.0.1", 0, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if port == 0 || ln.Addr().(*net.TCPAddr).Port != port {
		t.Fatalf("port %d does not match listener %s", port, ln.Addr())
	}
}

func TestBindRandomPortExhausted(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	_, _, err = BindRandomPort(context.Background(), "127.0.0.1", port, port, 3)

	var pbe *PortBindingError
	if !errors.As(err, &pbe) {
		t.Fatalf("expected PortBindingError, got %v", err)
	}
	if pbe.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", pbe.Attempts)
	}
}

func TestAcceptTimeout(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if _, err := AcceptTimeout(ln, 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer conn.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()
	conn, err := AcceptTimeout(ln, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
}
