package peer

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/rs/zerolog"

	"github.com/Ankesh2004/swarm/internal/registry"
	"github.com/Ankesh2004/swarm/pkg/p2p"
)

// View is a peer's projection of the tracker state: the join snapshot plus
// every notice applied since. It lags the tracker and is only touched by the
// acquisition loop.
type View struct {
	self  registry.PeerID
	reg   *registry.Registry
	peers registry.Directory
	log   zerolog.Logger
}

func NewView(self registry.PeerID, reg p2p.RegistrySnapshot, dir p2p.PeerDirectorySnapshot, log zerolog.Logger) *View {
	return &View{
		self:  self,
		reg:   registry.FromSnapshot(reg),
		peers: registry.DirectoryFromSnapshot(dir),
		log:   log,
	}
}

func (v *View) Registry() *registry.Registry {
	return v.reg
}

func (v *View) Contact(id registry.PeerID) (registry.Contact, bool) {
	c, ok := v.peers[id]
	return c, ok
}

// NextRequestTarget picks the next request among the holders we have a
// contact for. A holder whose join notice has not arrived yet, or that already
// left, is passed over for the others.
func (v *View) NextRequestTarget(local registry.Holdings) (registry.Target, bool) {
	reachable := roaring.New()
	for id := range v.peers {
		if id != v.self {
			reachable.Add(uint32(id))
		}
	}
	return v.reg.NextRequestTargetAmong(local, reachable)
}

// Record notes a chunk this peer just acquired; the tracker does not echo
// our own reports back.
func (v *View) Record(file string, chunk uint32) {
	v.reg.AddChunkHolder(v.self, file, chunk)
}

// Apply folds one tracker notice into the view.
func (v *View) Apply(p p2p.Payload) {
	switch msg := p.(type) {
	case p2p.NewPeerJoined:
		id := registry.PeerID(msg.PeerID)
		contact := registry.Contact{Addr: msg.Addr, Port: msg.Port}
		if old, ok := v.peers[id]; ok && old != contact {
			v.log.Debug().Uint32("other", msg.PeerID).Str("was", old.String()).Msg("contact replaced")
		}
		v.peers[id] = contact

	case p2p.FilesAdvertised:
		for _, f := range msg.Files {
			v.reg.AddFile(registry.PeerID(msg.PeerID), f.Name, f.Chunks)
		}

	case p2p.ChunkAcquired:
		if !v.reg.AddChunkHolder(registry.PeerID(msg.PeerID), msg.File, msg.Chunk) {
			v.log.Debug().Str("file", msg.File).Uint32("chunk", msg.Chunk).Msg("chunk of an unknown file")
		}

	case p2p.PeerDisconnected:
		id := registry.PeerID(msg.PeerID)
		v.reg.RemovePeer(id)
		delete(v.peers, id)

	default:
		v.log.Warn().Stringer("kind", p.Kind()).Msg("ignoring unexpected tracker message")
	}
}
