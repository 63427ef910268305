package registry

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/Ankesh2004/swarm/pkg/p2p"
)

// Snapshot flattens r into its wire form, files in discovery order and chunks
// ascending.
func (r *Registry) Snapshot() p2p.RegistrySnapshot {
	snap := p2p.RegistrySnapshot{Files: make([]p2p.FileHolders, 0, len(r.order))}
	for _, name := range r.order {
		entry := r.files[name]
		fh := p2p.FileHolders{Name: name, Advertised: entry.advertised}
		it := entry.keys.Iterator()
		for it.HasNext() {
			idx := it.Next()
			fh.Chunks = append(fh.Chunks, p2p.ChunkHolders{
				Index:   idx,
				Holders: entry.holders[idx].ToArray(),
			})
		}
		snap.Files = append(snap.Files, fh)
	}
	return snap
}

// FromSnapshot rebuilds a registry from its wire form. Chunks without holders
// stay on record.
func FromSnapshot(snap p2p.RegistrySnapshot) *Registry {
	r := New()
	for _, fh := range snap.Files {
		entry, ok := r.files[fh.Name]
		if !ok {
			entry = newFileEntry()
			r.files[fh.Name] = entry
			r.order = append(r.order, fh.Name)
		}
		entry.advertised = entry.advertised || fh.Advertised
		for _, ch := range fh.Chunks {
			entry.holder(ch.Index).Or(roaring.BitmapOf(ch.Holders...))
		}
	}
	return r
}

func (d Directory) Snapshot() p2p.PeerDirectorySnapshot {
	snap := p2p.PeerDirectorySnapshot{Peers: make([]p2p.PeerContact, 0, len(d))}
	for _, id := range d.IDs() {
		c := d[id]
		snap.Peers = append(snap.Peers, p2p.PeerContact{PeerID: uint32(id), Addr: c.Addr, Port: c.Port})
	}
	return snap
}

func DirectoryFromSnapshot(snap p2p.PeerDirectorySnapshot) Directory {
	d := make(Directory, len(snap.Peers))
	for _, pc := range snap.Peers {
		d[PeerID(pc.PeerID)] = Contact{Addr: pc.Addr, Port: pc.Port}
	}
	return d
}
