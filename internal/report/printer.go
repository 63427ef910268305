// Package report prints the human readable swarm event lines.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/Ankesh2004/swarm/pkg/p2p"
)

// Printer serializes event lines so concurrent writers never interleave the
// lines of one event.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a Printer writing to w; a nil w discards everything.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = io.Discard
	}
	return &Printer{w: w}
}

// PeerConnected prints the files a joining peer offers.
func (p *Printer) PeerConnected(id uint32, files []p2p.FileInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "PEER %d CONNECT: OFFERS %d\n", id, len(files))
	for _, f := range files {
		fmt.Fprintf(p.w, "%d    %s %d\n", id, f.Name, f.Chunks)
	}
}

// ChunkAcquired prints one acquired chunk as chunk/count of file.
func (p *Printer) ChunkAcquired(id, chunk uint32, count int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "PEER %d ACQUIRED: %d/%d %s\n", id, chunk, count, file)
}

// PeerDisconnected prints the files a leaving peer got in full.
func (p *Printer) PeerDisconnected(id uint32, files []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "PEER %d DISCONNECT: RECEIVED %d\n", id, len(files))
	for _, f := range files {
		fmt.Fprintf(p.w, "%d    %s\n", id, f)
	}
}
