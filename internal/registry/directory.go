package registry

import (
	"maps"
	"net"
	"slices"
	"strconv"
)

// Contact is where a peer serves chunks.
type Contact struct {
	Addr string
	Port int
}

func (c Contact) String() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

// Directory maps peer ids to their contact. Entries are last-write-wins.
type Directory map[PeerID]Contact

// IDs returns the known peer ids in ascending order.
func (d Directory) IDs() []PeerID {
	return slices.Sorted(maps.Keys(d))
}

func (d Directory) Clone() Directory {
	c := make(Directory, len(d))
	maps.Copy(c, d)
	return c
}
