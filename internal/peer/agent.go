// Package peer implements a swarm participant: it joins the tracker, shares
// its local files, fetches missing chunks directly from other peers and
// serves its own chunks until everybody it knows of is done with it.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Ankesh2004/swarm/internal/config"
	"github.com/Ankesh2004/swarm/internal/registry"
	"github.com/Ankesh2004/swarm/internal/report"
	"github.com/Ankesh2004/swarm/internal/storage"
	"github.com/Ankesh2004/swarm/pkg/p2p"
)

type Options struct {
	config.Config
	TrackerAddr string

	// ListenHost is the interface the chunk responder binds, empty for all.
	ListenHost string

	// AdvertiseAddr is the address other peers dial. When empty the local
	// address of the tracker connection is used; AdvertisePublic looks the
	// public IP up.
	AdvertiseAddr string

	// SharedDir holds the files offered at startup; completed downloads are
	// written back to it when the peer leaves.
	SharedDir string
	StoreDir  string

	Logger zerolog.Logger
	Out    io.Writer
}

type Agent struct {
	Options

	log     zerolog.Logger
	printer *report.Printer
	store   *storage.Store
	held    *Holdings
	limiter *rate.Limiter

	id        registry.PeerID
	session   *p2p.Conn
	responder *Responder
	view      *View
	local     map[string]bool // files found in SharedDir at startup
}

func New(opts Options) (*Agent, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.StoreDir == "" {
		return nil, errors.New("store directory is required")
	}

	limit := rate.Inf
	if opts.RequestInterval > 0 {
		limit = rate.Every(opts.RequestInterval)
	}
	return &Agent{
		Options: opts,
		log:     opts.Logger.With().Str("component", "peer").Logger(),
		printer: report.NewPrinter(opts.Out),
		store:   storage.NewStore(opts.StoreDir),
		held:    NewHoldings(),
		limiter: rate.NewLimiter(limit, 1),
		local:   make(map[string]bool),
	}, nil
}

// ID is the tracker-assigned id, zero before Run has joined.
func (a *Agent) ID() registry.PeerID {
	return a.id
}

// Held returns a copy of the local acquisition state.
func (a *Agent) Held() registry.Holdings {
	return a.held.Snapshot()
}

// Run joins the swarm and returns once the peer has left it. Join failures
// are returned; everything after the join is handled inside.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.join(ctx); err != nil {
		return fmt.Errorf("join %s: %w", a.TrackerAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.responder.Serve(gctx)
	})
	g.Go(func() error {
		err := a.acquire(gctx)
		a.leave()
		a.responder.Close()
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *Agent) connOptions() p2p.ConnOptions {
	return p2p.ConnOptions{MaxMessageSize: a.MaxMessageSize, WriteTimeout: a.WriteTimeout}
}

// join runs the two-step handshake with the tracker, binds the responder
// and builds the projected view from the join snapshots.
func (a *Agent) join(ctx context.Context) (err error) {
	defer func() {
		if err == nil {
			return
		}
		if a.responder != nil {
			a.responder.Close()
		}
		if a.session != nil {
			a.session.Close()
		}
	}()

	// sharding can take longer than the tracker waits between handshake
	// messages, so it happens before the tracker is contacted
	files, err := a.shareLocal()
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: a.HandshakeTimeout}
	ctrl, err := dialer.DialContext(ctx, "tcp", a.TrackerAddr)
	if err != nil {
		return err
	}
	ctrl.SetReadDeadline(time.Now().Add(a.HandshakeTimeout))
	p, err := p2p.Decode(ctrl, a.MaxMessageSize)
	ctrl.Close()
	if err != nil {
		return fmt.Errorf("control exchange: %w", err)
	}
	assignment, ok := p.(p2p.PortAssignment)
	if !ok {
		return p2p.Unexpected(p2p.KindPortAssignment, p)
	}

	host, _, err := net.SplitHostPort(a.TrackerAddr)
	if err != nil {
		return err
	}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(assignment.Port)))
	if err != nil {
		return fmt.Errorf("reconnect on session port: %w", err)
	}
	a.session = p2p.NewConn(raw, a.connOptions())

	p, err = a.session.Receive(a.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", p2p.KindPeerAssignment, err)
	}
	peerAssignment, ok := p.(p2p.PeerAssignment)
	if !ok {
		return p2p.Unexpected(p2p.KindPeerAssignment, p)
	}
	a.id = registry.PeerID(peerAssignment.PeerID)
	a.log = a.log.With().Uint32("peer", uint32(a.id)).Logger()

	ln, port, err := p2p.BindRandomPort(ctx, a.ListenHost, a.MinPort, a.MaxPort, a.PortAttempts)
	if err != nil {
		return err
	}
	a.responder = NewResponder(ln, a.store, a.held, a.Config, a.log)

	addr, err := resolveAdvertiseAddr(ctx, a.AdvertiseAddr, raw)
	if err != nil {
		return err
	}

	if err := a.session.Send(p2p.JoinAnnounce{Addr: addr, Port: port}); err != nil {
		return err
	}
	if err := a.session.Send(p2p.FilesAnnounce{Files: files}); err != nil {
		return err
	}

	p, err = a.session.Receive(a.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", p2p.KindRegistrySnapshot, err)
	}
	regSnap, ok := p.(p2p.RegistrySnapshot)
	if !ok {
		return p2p.Unexpected(p2p.KindRegistrySnapshot, p)
	}
	p, err = a.session.Receive(a.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", p2p.KindPeerDirectorySnapshot, err)
	}
	dirSnap, ok := p.(p2p.PeerDirectorySnapshot)
	if !ok {
		return p2p.Unexpected(p2p.KindPeerDirectorySnapshot, p)
	}
	a.view = NewView(a.id, regSnap, dirSnap, a.log)

	a.log.Info().
		Str("contact", net.JoinHostPort(addr, strconv.Itoa(port))).
		Stringer("serving", a.responder.Addr()).
		Int("files", len(files)).
		Msg("joined swarm")
	return nil
}

// shareLocal shards every regular file of SharedDir into the store and marks
// all of its chunks as held.
func (a *Agent) shareLocal() ([]p2p.FileInfo, error) {
	if a.SharedDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(a.SharedDir)
	if err != nil {
		return nil, err
	}

	var files []p2p.FileInfo
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		name, count, err := a.store.ShardPath(filepath.Join(a.SharedDir, e.Name()), a.ChunkSize)
		if err != nil {
			return nil, err
		}
		if want := storage.ChunkCount(info.Size(), a.ChunkSize); count != want {
			a.log.Warn().Str("file", name).Uint32("chunks", count).Uint32("expected", want).Msg("file changed while sharding")
		}
		a.held.AddAll(name, count)
		a.local[name] = true
		files = append(files, p2p.FileInfo{Name: name, Chunks: count})
	}
	return files, nil
}

// acquire is the main loop. It returns nil once the peer is done with the
// swarm, or the error that cut it short.
func (a *Agent) acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.applyNotices(); err != nil {
			return err
		}

		reg := a.view.Registry()
		local := a.held.Snapshot()

		if reg.HasEverything(local) {
			done, err := a.cooldown(ctx)
			if err != nil || done {
				return err
			}
			continue
		}

		target, ok := a.view.NextRequestTarget(local)
		if !ok {
			// whatever is missing has no reachable holder right now
			if err := sleep(ctx, a.PollInterval); err != nil {
				return err
			}
			continue
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		a.fetch(ctx, target)
	}
}

// applyNotices folds every notice the tracker has sent so far into the view.
func (a *Agent) applyNotices() error {
	for {
		p, ok, err := a.session.Poll()
		if err != nil {
			if p2p.IsMalformed(err) {
				a.log.Warn().Err(err).Msg("discarding tracker message")
				continue
			}
			return fmt.Errorf("tracker connection: %w", err)
		}
		if !ok {
			return nil
		}
		a.view.Apply(p)
	}
}

// cooldown waits MinAliveTime once everything is held. done is true when
// nothing new showed up and nobody fetched from us in the meantime.
func (a *Agent) cooldown(ctx context.Context) (done bool, err error) {
	a.responder.ResetGaveData()
	a.log.Debug().Dur("for", a.MinAliveTime).Msg("holding everything, cooling down")

	if err := sleep(ctx, a.MinAliveTime); err != nil {
		return false, err
	}
	if err := a.applyNotices(); err != nil {
		return false, err
	}
	if a.responder.GaveData() {
		return false, nil
	}
	return a.view.Registry().HasEverything(a.held.Snapshot()), nil
}

// fetch asks one peer for the target chunks and keeps what arrives within
// FetchTimeout. An unreachable peer just means zero chunks this round.
func (a *Agent) fetch(ctx context.Context, target registry.Target) {
	log := a.log.With().Uint32("from", uint32(target.Peer)).Str("file", target.File).Logger()

	contact, ok := a.view.Contact(target.Peer)
	if !ok {
		log.Warn().Msg("no contact for holder")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, a.FetchTimeout)
	defer cancel()

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", contact.String())
	if err != nil {
		log.Debug().Err(err).Msg("holder unreachable")
		return
	}
	conn := p2p.NewConn(raw, a.connOptions())
	defer conn.Close()

	req := p2p.ChunkRequest{
		RequestID: uuid.NewString(),
		File:      target.File,
		Chunks:    target.Chunks.ToArray(),
	}
	if err := conn.Send(req); err != nil {
		log.Debug().Err(err).Msg("request failed")
		return
	}

	want := target.Chunks.Clone()
	deadline := time.Now().Add(a.FetchTimeout)
	for !want.IsEmpty() {
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		p, err := conn.Receive(wait)
		if err != nil {
			if p2p.IsMalformed(err) {
				log.Warn().Err(err).Msg("discarding reply")
				continue
			}
			break
		}
		data, ok := p.(p2p.ChunkData)
		if !ok || data.RequestID != req.RequestID || data.File != req.File || !want.Contains(data.Chunk) {
			log.Warn().Stringer("kind", p.Kind()).Msg("discarding unsolicited reply")
			continue
		}
		if !storage.Verify(data.Digest, data.Data) {
			log.Warn().Uint32("chunk", data.Chunk).Msg("chunk failed digest check")
			continue
		}
		if err := a.store.WriteChunk(data.File, data.Chunk, data.Data); err != nil {
			log.Error().Err(err).Msg("could not store chunk")
			return
		}
		want.Remove(data.Chunk)
		a.acquired(data.File, data.Chunk)
	}

	if got := target.Chunks.GetCardinality() - want.GetCardinality(); got > 0 {
		log.Debug().Uint64("chunks", got).Uint64("missing", want.GetCardinality()).Msg("fetched")
	}
}

func (a *Agent) acquired(file string, chunk uint32) {
	a.held.Add(file, chunk)
	a.view.Record(file, chunk)
	err := a.session.Send(p2p.ChunkAcquired{PeerID: uint32(a.id), File: file, Chunk: chunk})
	if err != nil {
		a.log.Warn().Err(err).Msg("could not report chunk")
	}
}

// leave tells the tracker we are gone, then writes every completed download
// back to SharedDir.
func (a *Agent) leave() {
	if err := a.session.Send(p2p.PeerDisconnected{PeerID: uint32(a.id)}); err != nil {
		a.log.Warn().Err(err).Msg("could not send disconnect notice")
	}
	a.session.Close()

	reg := a.view.Registry()
	completed := reg.CompletelyHeldFiles(a.held.Snapshot())
	if a.SharedDir != "" {
		for _, file := range completed {
			if a.local[file] {
				continue
			}
			path, err := a.store.Export(file, uint32(reg.ChunkCount(file)), a.SharedDir)
			if err != nil {
				a.log.Error().Err(err).Str("file", file).Msg("could not reassemble")
				continue
			}
			a.log.Info().Str("path", path).Msg("file reassembled")
		}
	}
	a.printer.PeerDisconnected(uint32(a.id), completed)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
