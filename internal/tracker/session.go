package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ankesh2004/swarm/internal/config"
	"github.com/Ankesh2004/swarm/internal/registry"
	"github.com/Ankesh2004/swarm/pkg/p2p"
)

type SessionState uint8

const (
	AwaitingReconnect SessionState = iota
	Handshaking
	Polling
	Closed
)

func (s SessionState) String() string {
	switch s {
	case AwaitingReconnect:
		return "awaiting-reconnect"
	case Handshaking:
		return "handshaking"
	case Polling:
		return "polling"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", uint8(s))
	}
}

// session serves one peer from its dedicated port until it leaves. Nothing
// it does can fail the coordinator or another session.
type session struct {
	id         registry.PeerID
	cfg        config.Config
	ln         net.Listener
	remoteHost string // fallback contact address, from the control connection
	queue      *Queue
	log        zerolog.Logger

	state  SessionState
	conn   *p2p.Conn
	box    *Mailbox
	joined bool
	left   bool
}

func (s *session) run(ctx context.Context) {
	defer s.finish(ctx)

	if err := s.awaitReconnect(ctx); err != nil {
		s.log.Warn().Err(err).Msg("peer never reconnected")
		return
	}
	if err := s.handshake(); err != nil {
		s.log.Warn().Err(err).Msg("handshake aborted")
		return
	}
	s.poll(ctx)
}

func (s *session) setState(st SessionState) {
	s.log.Debug().Stringer("from", s.state).Stringer("to", st).Msg("session state")
	s.state = st
}

// awaitReconnect polls the dedicated listener in AcceptTimeout slices until
// the peer shows up or ReconnectTimeout runs out.
func (s *session) awaitReconnect(ctx context.Context) error {
	defer s.ln.Close()

	deadline := time.Now().Add(s.cfg.ReconnectTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := p2p.AcceptTimeout(s.ln, s.cfg.AcceptTimeout)
		if err == nil {
			s.conn = p2p.NewConn(conn, p2p.ConnOptions{
				MaxMessageSize: s.cfg.MaxMessageSize,
				WriteTimeout:   s.cfg.WriteTimeout,
			})
			break
		}
		if !errors.Is(err, p2p.ErrTimeout) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no connection within %s", s.cfg.ReconnectTimeout)
		}
	}
	return s.conn.Send(p2p.PeerAssignment{PeerID: uint32(s.id)})
}

func (s *session) handshake() error {
	s.setState(Handshaking)

	// attach before submitting anything; our own join then arrives as a notice
	box, snap := s.queue.Attach(s.id)
	s.box = box

	p, err := s.conn.Receive(s.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", p2p.KindJoinAnnounce, err)
	}
	join, ok := p.(p2p.JoinAnnounce)
	if !ok {
		return p2p.Unexpected(p2p.KindJoinAnnounce, p)
	}
	contact := registry.Contact{Addr: join.Addr, Port: join.Port}
	if contact.Addr == "" {
		contact.Addr = s.remoteHost
	}
	s.queue.Submit(JoinTask(s.id, contact))
	s.joined = true

	p, err = s.conn.Receive(s.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", p2p.KindFilesAnnounce, err)
	}
	files, ok := p.(p2p.FilesAnnounce)
	if !ok {
		return p2p.Unexpected(p2p.KindFilesAnnounce, p)
	}
	s.queue.Submit(AdvertiseTask(s.id, files.Files))

	if err := s.conn.Send(snap.Registry.Snapshot()); err != nil {
		return err
	}
	if err := s.conn.Send(snap.Peers.Snapshot()); err != nil {
		return err
	}

	s.log.Info().
		Str("contact", contact.String()).
		Int("files", len(files.Files)).
		Msg("peer joined")
	return nil
}

func (s *session) poll(ctx context.Context) {
	s.setState(Polling)

	for {
		select {
		case <-ctx.Done():
			return

		case rpc, ok := <-s.conn.Consume():
			if !ok {
				if err := s.conn.Err(); err != nil {
					s.log.Warn().Err(err).Msg("connection broken")
				} else {
					s.log.Info().Msg("connection closed without notice")
				}
				return
			}
			if rpc.Err != nil {
				s.log.Warn().Err(rpc.Err).Str("from", rpc.From).Msg("discarding message")
				continue
			}
			if s.handle(ctx, rpc.Payload) {
				return
			}

		case <-s.box.Ready():
			if err := s.flush(); err != nil {
				s.log.Warn().Err(err).Msg("write failed")
				return
			}
		}
	}
}

// handle processes one inbound message and reports whether the peer left.
func (s *session) handle(ctx context.Context, p p2p.Payload) bool {
	switch msg := p.(type) {
	case p2p.ChunkAcquired:
		if msg.PeerID != uint32(s.id) {
			s.log.Warn().Uint32("claimed", msg.PeerID).Msg("chunk report under a foreign id, recording it as ours")
		}
		s.queue.Submit(ChunkAcquiredTask(s.id, msg.File, msg.Chunk))
		return false
	case p2p.PeerDisconnected:
		s.leave(ctx)
		return true
	default:
		s.log.Warn().Stringer("kind", p.Kind()).Msg("unexpected message while polling")
		return false
	}
}

func (s *session) flush() error {
	for _, notice := range s.box.Take() {
		if err := s.conn.Send(notice); err != nil {
			return err
		}
	}
	return nil
}

// leave submits the disconnect and waits until it has been applied, so the
// peer is gone from shared state before the session ends.
func (s *session) leave(ctx context.Context) {
	if s.left {
		return
	}
	s.left = true

	t := DisconnectTask(s.id)
	s.queue.Submit(t)
	select {
	case <-t.Done():
	case <-ctx.Done():
	}
}

func (s *session) finish(ctx context.Context) {
	if s.joined {
		s.leave(ctx)
	}
	if s.box != nil {
		s.queue.Detach(s.id)
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.setState(Closed)
	s.log.Info().Msg("session closed")
}
