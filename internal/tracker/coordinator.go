// Package tracker implements the rendezvous service: it hands out peer ids,
// keeps the chunk registry and contact directory, and relays every change to
// all connected peers.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ankesh2004/swarm/internal/config"
	"github.com/Ankesh2004/swarm/internal/registry"
	"github.com/Ankesh2004/swarm/internal/report"
	"github.com/Ankesh2004/swarm/pkg/p2p"
)

type Options struct {
	config.Config
	ListenAddr string
	Logger     zerolog.Logger
	Out        io.Writer // event lines, nil discards them
}

type Coordinator struct {
	Options

	log      zerolog.Logger
	queue    *Queue
	state    *State // owned by Run
	ln       net.Listener
	bindHost string
	nextID   registry.PeerID
	sessions sync.WaitGroup
}

func New(opts Options) (*Coordinator, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := opts.Logger.With().Str("component", "tracker").Logger()
	return &Coordinator{
		Options: opts,
		log:     log,
		queue:   NewQueue(log, report.NewPrinter(opts.Out)),
		state:   NewState(),
	}, nil
}

// Listen binds the control port. Run calls it when it was not done before.
func (c *Coordinator) Listen(ctx context.Context) error {
	ln, err := p2p.Listen(ctx, c.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.ListenAddr, err)
	}
	host, _, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		ln.Close()
		return err
	}
	c.ln = ln
	c.bindHost = host
	c.log.Info().Str("addr", ln.Addr().String()).Msg("tracker listening")
	return nil
}

func (c *Coordinator) Addr() net.Addr {
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// Snapshot returns the state as of the last drain.
func (c *Coordinator) Snapshot() *State {
	return c.queue.Snapshot()
}

// Run accepts peers until ctx is done or the listener is closed. Every
// iteration either admits one pending connection or, when none arrived within
// AcceptTimeout, drains the task queue. Sessions are stopped before it
// returns.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.ln == nil {
		if err := c.Listen(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer c.sessions.Wait()
	defer cancel()
	defer c.ln.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := p2p.AcceptTimeout(c.ln, c.AcceptTimeout)
		switch {
		case err == nil:
			c.admit(ctx, conn)
		case errors.Is(err, p2p.ErrTimeout):
			c.queue.DrainOnce(c.state)
		case errors.Is(err, net.ErrClosed):
			return nil
		default:
			c.log.Warn().Err(err).Msg("accept failed")
		}
	}
}

// admit runs the control exchange: assign an id, bind the session port and
// tell the peer where to reconnect.
func (c *Coordinator) admit(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	c.nextID++
	id := c.nextID
	log := c.log.With().Uint32("peer", uint32(id)).Logger()

	remoteHost, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		log.Warn().Err(err).Msg("bad remote address")
		return
	}

	ln, port, err := p2p.BindRandomPort(ctx, c.bindHost, c.MinPort, c.MaxPort, c.PortAttempts)
	if err != nil {
		log.Error().Err(err).Msg("no session port available")
		return
	}

	if c.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}
	if err := p2p.Encode(conn, p2p.PortAssignment{Port: port}); err != nil {
		log.Warn().Err(err).Msg("could not send port assignment")
		ln.Close()
		return
	}
	log.Debug().Int("port", port).Msg("session port assigned")

	s := &session{
		id:         id,
		cfg:        c.Config,
		ln:         ln,
		remoteHost: remoteHost,
		queue:      c.queue,
		log:        log,
	}
	c.sessions.Add(1)
	go func() {
		defer c.sessions.Done()
		s.run(ctx)
	}()
}
