package peer

import (
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/Ankesh2004/swarm/internal/registry"
)

// Holdings is the set of chunks written to the local store. It only grows.
// The acquisition loop writes it while the responder reads it.
type Holdings struct {
	mu    sync.RWMutex
	files map[string]*roaring.Bitmap
}

func NewHoldings() *Holdings {
	return &Holdings{files: make(map[string]*roaring.Bitmap)}
}

func (h *Holdings) Add(file string, chunk uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bitmap(file).Add(chunk)
}

// AddAll marks chunks 0..count-1 of file as held.
func (h *Holdings) AddAll(file string, count uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bitmap(file).AddRange(0, uint64(count))
}

func (h *Holdings) Has(file string, chunk uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	b, ok := h.files[file]
	return ok && b.Contains(chunk)
}

// Snapshot returns a copy safe to hand to registry queries.
func (h *Holdings) Snapshot() registry.Holdings {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := make(registry.Holdings, len(h.files))
	for name, b := range h.files {
		snap[name] = b.Clone()
	}
	return snap
}

func (h *Holdings) bitmap(file string) *roaring.Bitmap {
	b, ok := h.files[file]
	if !ok {
		b = roaring.New()
		h.files[file] = b
	}
	return b
}
