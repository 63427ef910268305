package registry

import (
	"slices"
	"testing"

	"github.com/RoaringBitmap/roaring"
)

func holdersOf(t *testing.T, r *Registry, file string, chunk uint32) []PeerID {
	t.Helper()
	return r.Holders(file, chunk)
}

func assertHolders(t *testing.T, r *Registry, file string, want map[uint32][]PeerID) {
	t.Helper()
	if got := r.ChunkCount(file); got != len(want) {
		t.Fatalf("%s: expected %d chunks, got %d", file, len(want), got)
	}
	for chunk, peers := range want {
		got := holdersOf(t, r, file, chunk)
		if len(got) != len(peers) || (len(peers) > 0 && !slices.Equal(got, peers)) {
			t.Errorf("%s chunk %d: expected holders %v, got %v", file, chunk, peers, got)
		}
	}
}

func assertTarget(t *testing.T, got Target, ok bool, peer PeerID, file string, chunks ...uint32) {
	t.Helper()
	if !ok {
		t.Fatal("expected a request target, got none")
	}
	if got.Peer != peer || got.File != file {
		t.Fatalf("expected target peer %d file %q, got peer %d file %q", peer, file, got.Peer, got.File)
	}
	if !got.Chunks.Equals(roaring.BitmapOf(chunks...)) {
		t.Fatalf("expected chunks %v, got %v", chunks, got.Chunks.ToArray())
	}
}

// scenarios A, B and C run against one registry, one step after the other
func TestAcquisitionScenarios(t *testing.T) {
	r := New()

	// A: peer 1 advertises a.txt, a fresh peer should ask peer 1 for everything
	r.AddFile(1, "a.txt", 3)
	assertHolders(t, r, "a.txt", map[uint32][]PeerID{0: {1}, 1: {1}, 2: {1}})

	target, ok := r.NextRequestTarget(Holdings{})
	assertTarget(t, target, ok, 1, "a.txt", 0, 1, 2)

	// B: peer 2 got chunk 1, peer 1 still holds the whole missing set
	if !r.AddChunkHolder(2, "a.txt", 1) {
		t.Fatal("chunk 1 of a.txt should be known")
	}
	assertHolders(t, r, "a.txt", map[uint32][]PeerID{0: {1}, 1: {1, 2}, 2: {1}})

	target, ok = r.NextRequestTarget(Holdings{})
	assertTarget(t, target, ok, 1, "a.txt", 0, 1, 2)

	// C: peer 1 leaves, nobody holds the full set, fall back to peer 2 / chunk 1
	r.RemovePeer(1)
	assertHolders(t, r, "a.txt", map[uint32][]PeerID{0: {}, 1: {2}, 2: {}})

	target, ok = r.NextRequestTarget(Holdings{})
	assertTarget(t, target, ok, 2, "a.txt", 1)
}

func TestNextRequestTargetOnlyAsksForMissingChunks(t *testing.T) {
	r := New()
	r.AddFile(4, "a.txt", 4)

	local := Holdings{"a.txt": roaring.BitmapOf(0, 2)}
	target, ok := r.NextRequestTarget(local)
	assertTarget(t, target, ok, 4, "a.txt", 1, 3)
}

func TestNextRequestTargetPicksLowestPeer(t *testing.T) {
	r := New()
	r.AddFile(7, "a.txt", 2)
	r.AddFile(3, "a.txt", 2)
	r.AddFile(5, "a.txt", 2)

	target, ok := r.NextRequestTarget(nil)
	assertTarget(t, target, ok, 3, "a.txt", 0, 1)
}

func TestNextRequestTargetFollowsDiscoveryOrder(t *testing.T) {
	r := New()
	r.AddFile(1, "zeta", 1)
	r.AddFile(2, "alpha", 1)

	target, ok := r.NextRequestTarget(Holdings{})
	assertTarget(t, target, ok, 1, "zeta", 0)

	target, ok = r.NextRequestTarget(Holdings{"zeta": roaring.BitmapOf(0)})
	assertTarget(t, target, ok, 2, "alpha", 0)
}

func TestNextRequestTargetSkipsUnobtainableFile(t *testing.T) {
	r := New()
	r.AddFile(1, "orphan", 2)
	r.AddFile(2, "b.txt", 1)
	r.RemovePeer(1)

	target, ok := r.NextRequestTarget(Holdings{})
	assertTarget(t, target, ok, 2, "b.txt", 0)
}

func TestNextRequestTargetNone(t *testing.T) {
	r := New()
	if _, ok := r.NextRequestTarget(Holdings{}); ok {
		t.Fatal("empty registry should yield no target")
	}

	r.AddFile(1, "a.txt", 2)
	if _, ok := r.NextRequestTarget(Holdings{"a.txt": roaring.BitmapOf(0, 1)}); ok {
		t.Fatal("nothing missing should yield no target")
	}

	r.RemovePeer(1)
	if _, ok := r.NextRequestTarget(Holdings{}); ok {
		t.Fatal("chunks without holders should yield no target")
	}
}

func TestAddFileKeepsChunkKeys(t *testing.T) {
	r := New()
	r.AddFile(1, "a.txt", 3)
	r.AddFile(2, "a.txt", 5)
	r.AddFile(3, "a.txt", 1)

	if got := r.Chunks("a.txt"); !slices.Equal(got, []uint32{0, 1, 2}) {
		t.Fatalf("chunk keys changed after re-advertising: %v", got)
	}
	assertHolders(t, r, "a.txt", map[uint32][]PeerID{0: {1, 2, 3}, 1: {1, 2, 3}, 2: {1, 2, 3}})
}

func TestAddChunkHolderUnknownFile(t *testing.T) {
	r := New()
	if r.AddChunkHolder(9, "ghost", 4) {
		t.Fatal("unknown file should be reported as such")
	}
	if got := r.Chunks("ghost"); !slices.Equal(got, []uint32{4}) {
		t.Fatalf("expected only chunk 4 on record, got %v", got)
	}

	r.AddFile(1, "a.txt", 1)
	if r.AddChunkHolder(2, "a.txt", 3) {
		t.Fatal("chunk beyond the advertised count should be reported")
	}
	if !slices.Equal(r.Holders("a.txt", 3), []PeerID{2}) {
		t.Fatalf("anomalous chunk not recorded: %v", r.Holders("a.txt", 3))
	}
}

func TestAddFileCompletesReportedOnlyFile(t *testing.T) {
	r := New()
	r.AddChunkHolder(2, "a.txt", 1)
	r.AddFile(1, "a.txt", 3)

	assertHolders(t, r, "a.txt", map[uint32][]PeerID{0: {1}, 1: {1, 2}, 2: {1}})
	if r.HasEverything(Holdings{"a.txt": roaring.BitmapOf(1)}) {
		t.Fatal("holding only the reported chunk is not the whole file")
	}
	target, ok := r.NextRequestTarget(Holdings{"a.txt": roaring.BitmapOf(1)})
	assertTarget(t, target, ok, 1, "a.txt", 0, 2)

	r.AddFile(3, "a.txt", 7)
	assertHolders(t, r, "a.txt", map[uint32][]PeerID{0: {1, 3}, 1: {1, 2, 3}, 2: {1, 3}})

	back := FromSnapshot(r.Snapshot())
	back.AddFile(4, "a.txt", 9)
	if got := back.ChunkCount("a.txt"); got != 3 {
		t.Fatalf("advertised file grew after a snapshot round trip: %d chunks", got)
	}

	reported := New()
	reported.AddChunkHolder(2, "b.txt", 0)
	late := FromSnapshot(reported.Snapshot())
	late.AddFile(1, "b.txt", 2)
	assertHolders(t, late, "b.txt", map[uint32][]PeerID{0: {1, 2}, 1: {1}})
}

func TestNextRequestTargetAmongSkipsExcludedPeers(t *testing.T) {
	r := New()
	r.AddFile(1, "a.txt", 2)
	r.AddFile(3, "a.txt", 2)
	r.AddChunkHolder(2, "a.txt", 1)

	target, ok := r.NextRequestTargetAmong(Holdings{}, roaring.BitmapOf(2, 3))
	assertTarget(t, target, ok, 3, "a.txt", 0, 1)

	target, ok = r.NextRequestTargetAmong(Holdings{}, roaring.BitmapOf(2))
	assertTarget(t, target, ok, 2, "a.txt", 1)

	if _, ok := r.NextRequestTargetAmong(Holdings{}, roaring.New()); ok {
		t.Fatal("no allowed peer should yield no target")
	}
}

func TestRemovePeerIsExhaustive(t *testing.T) {
	r := New()
	r.AddFile(1, "a.txt", 3)
	r.AddFile(1, "b.txt", 2)
	r.AddFile(2, "b.txt", 2)
	r.AddChunkHolder(1, "c.txt", 0)

	r.RemovePeer(1)

	for _, file := range r.Files() {
		for _, chunk := range r.Chunks(file) {
			if slices.Contains(r.Holders(file, chunk), 1) {
				t.Fatalf("peer 1 still holds %s chunk %d", file, chunk)
			}
		}
	}
	if !r.Has("a.txt") || r.ChunkCount("a.txt") != 3 {
		t.Fatal("files must stay on record after their holder leaves")
	}
}

func TestCompletelyHeldFiles(t *testing.T) {
	r := New()
	r.AddFile(1, "a.txt", 3)
	r.AddFile(1, "b.txt", 2)
	r.AddFile(1, "empty", 0)

	local := Holdings{
		"a.txt": roaring.BitmapOf(0, 1, 2),
		"b.txt": roaring.BitmapOf(1),
		"other": roaring.BitmapOf(0),
	}

	got := r.CompletelyHeldFiles(local)
	if !slices.Equal(got, []string{"a.txt", "empty"}) {
		t.Fatalf("expected [a.txt empty], got %v", got)
	}
}

func TestHasEverything(t *testing.T) {
	r := New()
	if !r.HasEverything(nil) {
		t.Fatal("an empty registry is trivially complete")
	}

	r.AddFile(1, "a.txt", 3)
	local := Holdings{"a.txt": roaring.BitmapOf(0, 1, 2)}
	if !r.HasEverything(local) {
		t.Fatal("expected HasEverything with all chunks of a.txt")
	}

	r.AddFile(2, "b.txt", 1)
	if r.HasEverything(local) {
		t.Fatal("a newly advertised file must break HasEverything")
	}
}

func TestFilesHeldBy(t *testing.T) {
	r := New()
	r.AddFile(1, "a.txt", 2)
	r.AddFile(2, "b.txt", 2)
	r.AddChunkHolder(1, "b.txt", 0)

	if got := r.FilesHeldBy(1); !slices.Equal(got, []string{"a.txt"}) {
		t.Fatalf("expected [a.txt], got %v", got)
	}
	r.AddChunkHolder(1, "b.txt", 1)
	if got := r.FilesHeldBy(1); !slices.Equal(got, []string{"a.txt", "b.txt"}) {
		t.Fatalf("expected [a.txt b.txt], got %v", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := New()
	r.AddFile(1, "a.txt", 2)

	c := r.Clone()
	r.AddChunkHolder(2, "a.txt", 0)
	r.AddFile(3, "b.txt", 1)

	if c.Has("b.txt") {
		t.Fatal("clone picked up a file added later")
	}
	if got := c.Holders("a.txt", 0); !slices.Equal(got, []PeerID{1}) {
		t.Fatalf("clone holders changed: %v", got)
	}
}

func TestDirectory(t *testing.T) {
	d := Directory{3: {Addr: "10.0.0.3", Port: 9003}, 1: {Addr: "10.0.0.1", Port: 9001}}
	if got := d.IDs(); !slices.Equal(got, []PeerID{1, 3}) {
		t.Fatalf("expected sorted ids, got %v", got)
	}
	if got := d[1].String(); got != "10.0.0.1:9001" {
		t.Fatalf("unexpected contact string %q", got)
	}

	c := d.Clone()
	c[1] = Contact{Addr: "10.0.0.9", Port: 1}
	if d[1].Port != 9001 {
		t.Fatal("clone shares storage with the original")
	}
}

func TestSnapshotRoundTripKeepsEmptyChunks(t *testing.T) {
	r := New()
	r.AddFile(1, "zeta", 3)
	r.AddFile(2, "alpha", 1)
	r.AddChunkHolder(2, "zeta", 1)
	r.RemovePeer(1)

	back := FromSnapshot(r.Snapshot())

	if got := back.Files(); !slices.Equal(got, []string{"zeta", "alpha"}) {
		t.Fatalf("discovery order lost: %v", got)
	}
	assertHolders(t, back, "zeta", map[uint32][]PeerID{0: {}, 1: {2}, 2: {}})
	assertHolders(t, back, "alpha", map[uint32][]PeerID{0: {2}})

	d := Directory{2: {Addr: "127.0.0.1", Port: 4000}}
	if got := DirectoryFromSnapshot(d.Snapshot()); got[2] != d[2] || len(got) != 1 {
		t.Fatalf("directory round trip mismatch: %v", got)
	}
}
