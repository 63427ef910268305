package peer

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Ankesh2004/swarm/internal/config"
	"github.com/Ankesh2004/swarm/internal/storage"
	"github.com/Ankesh2004/swarm/pkg/p2p"
)

// Responder serves chunk requests from other peers, one request per
// connection, answering with whatever requested chunks are held locally.
type Responder struct {
	ln    net.Listener
	store *storage.Store
	held  *Holdings
	cfg   config.Config
	log   zerolog.Logger

	gaveData  atomic.Bool
	conns     sync.WaitGroup
	closeOnce sync.Once
}

func NewResponder(ln net.Listener, store *storage.Store, held *Holdings, cfg config.Config, log zerolog.Logger) *Responder {
	return &Responder{
		ln:    ln,
		store: store,
		held:  held,
		cfg:   cfg,
		log:   log,
	}
}

func (r *Responder) Addr() net.Addr {
	return r.ln.Addr()
}

// GaveData reports whether any chunk was served since the last reset.
func (r *Responder) GaveData() bool {
	return r.gaveData.Load()
}

func (r *Responder) ResetGaveData() {
	r.gaveData.Store(false)
}

// Serve accepts requests until Close is called or ctx is done, then waits for
// in-flight answers to finish.
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()
	defer r.conns.Wait()

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		r.conns.Add(1)
		go func() {
			defer r.conns.Done()
			r.serve(conn)
		}()
	}
}

func (r *Responder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.ln.Close()
	})
	return err
}

func (r *Responder) serve(raw net.Conn) {
	conn := p2p.NewConn(raw, p2p.ConnOptions{
		MaxMessageSize: r.cfg.MaxMessageSize,
		WriteTimeout:   r.cfg.WriteTimeout,
	})
	defer conn.Close()

	log := r.log.With().Str("from", raw.RemoteAddr().String()).Logger()

	p, err := conn.Receive(r.cfg.FetchTimeout)
	if err != nil {
		log.Debug().Err(err).Msg("no request")
		return
	}
	req, ok := p.(p2p.ChunkRequest)
	if !ok {
		log.Warn().Err(p2p.Unexpected(p2p.KindChunkRequest, p)).Msg("discarding message")
		return
	}

	for _, chunk := range req.Chunks {
		if !r.held.Has(req.File, chunk) {
			continue
		}
		data, err := r.store.ReadChunk(req.File, chunk)
		if err != nil {
			log.Warn().Err(err).Msg("held chunk unreadable")
			continue
		}
		err = conn.Send(p2p.ChunkData{
			RequestID: req.RequestID,
			File:      req.File,
			Chunk:     chunk,
			Data:      data,
			Digest:    storage.Digest(data),
		})
		if err != nil {
			log.Debug().Err(err).Msg("requester went away")
			return
		}
		r.gaveData.Store(true)
	}
}
