// Package registry holds the chunk availability map shared by the tracker and
// mirrored by every peer. It does no locking: the tracker only mutates it from
// its single drain step, a peer only from its acquisition loop.
package registry

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
)

// PeerID is assigned by the tracker when a peer connects.
type PeerID uint32

// Holdings is a peer's local acquisition state: file name to the chunk
// indices it has written locally. A nil bitmap means no chunks.
type Holdings map[string]*roaring.Bitmap

// Target is the answer of NextRequestTarget.
type Target struct {
	Peer   PeerID
	File   string
	Chunks *roaring.Bitmap
}

type fileEntry struct {
	keys    *roaring.Bitmap            // chunk indices known for the file
	holders map[uint32]*roaring.Bitmap // chunk index -> holder peer ids

	// advertised is set once some peer announced the full chunk count.
	// Until then keys only hold chunks reported one at a time.
	advertised bool
}

func newFileEntry() *fileEntry {
	return &fileEntry{
		keys:    roaring.New(),
		holders: make(map[uint32]*roaring.Bitmap),
	}
}

func (f *fileEntry) holder(chunk uint32) *roaring.Bitmap {
	h, ok := f.holders[chunk]
	if !ok {
		h = roaring.New()
		f.holders[chunk] = h
		f.keys.Add(chunk)
	}
	return h
}

// Registry maps every known file to its chunks and their holders. Files are
// kept in discovery order, which is also the order NextRequestTarget walks.
type Registry struct {
	order []string
	files map[string]*fileEntry
}

func New() *Registry {
	return &Registry{
		files: make(map[string]*fileEntry),
	}
}

// AddFile records that peer holds every chunk of file. The first
// advertisement fixes the chunk indices to 0..chunkCount-1, completing a file
// that so far was only known from single chunk reports. Later calls ignore
// chunkCount and add peer to every chunk already on record.
func (r *Registry) AddFile(peer PeerID, file string, chunkCount uint32) {
	entry, ok := r.files[file]
	if !ok {
		entry = newFileEntry()
		r.files[file] = entry
		r.order = append(r.order, file)
	}
	if !entry.advertised {
		entry.advertised = true
		for i := uint32(0); i < chunkCount; i++ {
			entry.holder(i).Add(uint32(peer))
		}
		return
	}
	for _, h := range entry.holders {
		h.Add(uint32(peer))
	}
}

// AddChunkHolder records that peer holds one chunk. It returns false when the
// file or chunk was not on record yet; the chunk is recorded anyway as the
// only one known so far.
func (r *Registry) AddChunkHolder(peer PeerID, file string, chunk uint32) bool {
	known := true
	entry, ok := r.files[file]
	if !ok {
		known = false
		entry = newFileEntry()
		r.files[file] = entry
		r.order = append(r.order, file)
	}
	if !entry.keys.Contains(chunk) {
		known = false
	}
	entry.holder(chunk).Add(uint32(peer))
	return known
}

// RemovePeer drops peer from every holder set of every file. Files stay on
// record even when nobody holds them any more.
func (r *Registry) RemovePeer(peer PeerID) {
	for _, entry := range r.files {
		for _, h := range entry.holders {
			h.Remove(uint32(peer))
		}
	}
}

// CompletelyHeldFiles returns, in discovery order, the files for which local
// covers every known chunk index.
func (r *Registry) CompletelyHeldFiles(local Holdings) []string {
	var held []string
	for _, name := range r.order {
		if r.missing(name, local).IsEmpty() {
			held = append(held, name)
		}
	}
	return held
}

// HasEverything reports whether local covers every chunk of every known file.
func (r *Registry) HasEverything(local Holdings) bool {
	for _, name := range r.order {
		if !r.missing(name, local).IsEmpty() {
			return false
		}
	}
	return true
}

// NextRequestTarget picks the next peer to ask, greedily: for the first file
// with missing chunks it looks for peers holding every missing chunk and
// takes the lowest id. When no peer holds all of them it falls back to the
// holders of the first missing chunk that has any holder, which degrades to
// small requests. Files whose missing chunks have no holder at all are
// skipped. ok is false when nothing can be requested.
func (r *Registry) NextRequestTarget(local Holdings) (Target, bool) {
	return r.NextRequestTargetAmong(local, nil)
}

// NextRequestTargetAmong is NextRequestTarget restricted to the peers in
// allowed, typically the ones a contact is known for. A nil allowed admits
// every peer.
func (r *Registry) NextRequestTargetAmong(local Holdings, allowed *roaring.Bitmap) (Target, bool) {
	for _, name := range r.order {
		missing := r.missing(name, local)
		if missing.IsEmpty() {
			continue
		}
		entry := r.files[name]
		holders := func(chunk uint32) *roaring.Bitmap {
			if allowed == nil {
				return entry.holders[chunk]
			}
			return roaring.And(entry.holders[chunk], allowed)
		}

		var candidates *roaring.Bitmap
		it := missing.Iterator()
		for it.HasNext() {
			h := holders(it.Next())
			if candidates == nil {
				candidates = h.Clone()
			} else {
				candidates.And(h)
			}
			if candidates.IsEmpty() {
				break
			}
		}

		if candidates.IsEmpty() {
			candidates = nil
			it = missing.Iterator()
			for it.HasNext() {
				if h := holders(it.Next()); !h.IsEmpty() {
					candidates = h
					break
				}
			}
		}
		if candidates == nil {
			continue
		}

		peer := candidates.Minimum()
		chunks := roaring.New()
		it = missing.Iterator()
		for it.HasNext() {
			c := it.Next()
			if entry.holders[c].Contains(peer) {
				chunks.Add(c)
			}
		}
		return Target{Peer: PeerID(peer), File: name, Chunks: chunks}, true
	}
	return Target{}, false
}

// FilesHeldBy returns, in discovery order, the files peer holds completely.
func (r *Registry) FilesHeldBy(peer PeerID) []string {
	var held []string
	for _, name := range r.order {
		entry := r.files[name]
		all := true
		for _, h := range entry.holders {
			if !h.Contains(uint32(peer)) {
				all = false
				break
			}
		}
		if all {
			held = append(held, name)
		}
	}
	return held
}

// Files returns the known file names in discovery order.
func (r *Registry) Files() []string {
	return slices.Clone(r.order)
}

// Has reports whether file is on record.
func (r *Registry) Has(file string) bool {
	_, ok := r.files[file]
	return ok
}

// ChunkCount is the number of chunk indices on record for file, 0 if unknown.
func (r *Registry) ChunkCount(file string) int {
	entry, ok := r.files[file]
	if !ok {
		return 0
	}
	return int(entry.keys.GetCardinality())
}

// Chunks returns the chunk indices on record for file in ascending order.
func (r *Registry) Chunks(file string) []uint32 {
	entry, ok := r.files[file]
	if !ok {
		return nil
	}
	return entry.keys.ToArray()
}

// Holders returns the holders of one chunk in ascending order.
func (r *Registry) Holders(file string, chunk uint32) []PeerID {
	entry, ok := r.files[file]
	if !ok {
		return nil
	}
	h, ok := entry.holders[chunk]
	if !ok {
		return nil
	}
	ids := make([]PeerID, 0, h.GetCardinality())
	h.Iterate(func(x uint32) bool {
		ids = append(ids, PeerID(x))
		return true
	})
	return ids
}

// Clone returns a deep copy that shares nothing with r.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		order: slices.Clone(r.order),
		files: make(map[string]*fileEntry, len(r.files)),
	}
	for name, entry := range r.files {
		ce := &fileEntry{
			keys:       entry.keys.Clone(),
			holders:    make(map[uint32]*roaring.Bitmap, len(entry.holders)),
			advertised: entry.advertised,
		}
		for idx, h := range entry.holders {
			ce.holders[idx] = h.Clone()
		}
		c.files[name] = ce
	}
	return c
}

// missing is the set of known chunk indices of file absent from local.
func (r *Registry) missing(file string, local Holdings) *roaring.Bitmap {
	entry := r.files[file]
	have := local[file]
	if have == nil {
		return entry.keys.Clone()
	}
	return roaring.AndNot(entry.keys, have)
}
