package storage

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestChunkCount(t *testing.T) {
	cases := []struct {
		size, chunkSize int64
		want            uint32
	}{
		{0, 512, 0},
		{1, 512, 1},
		{512, 512, 1},
		{513, 512, 2},
		{5000, 1024, 5},
	}
	for _, c := range cases {
		if got := ChunkCount(c.size, c.chunkSize); got != c.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", c.size, c.chunkSize, got, c.want)
		}
	}
}

func TestShardSmallFile(t *testing.T) {
	s := NewStore(t.TempDir())

	data := []byte("hello, chunker!")
	n, err := s.ShardFile("small.txt", bytes.NewReader(data), DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk, got %d", n)
	}

	readBack, err := s.ReadChunk("small.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, readBack) {
		t.Fatalf("data mismatch: got %q, want %q", readBack, data)
	}
}

func TestShardAndAssemble(t *testing.T) {
	s := NewStore(t.TempDir())

	// 4 full chunks and a short one
	chunkSize := int64(1024)
	data := make([]byte, 5000)
	rand.Read(data)

	n, err := s.ShardFile("blob.bin", bytes.NewReader(data), chunkSize)
	if err != nil {
		t.Fatal(err)
	}
	if n != ChunkCount(int64(len(data)), chunkSize) {
		t.Fatalf("expected %d chunks, got %d", ChunkCount(int64(len(data)), chunkSize), n)
	}

	last, err := s.ReadChunk("blob.bin", n-1)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 5000-4*1024 {
		t.Fatalf("last chunk should hold the remainder, got %d bytes", len(last))
	}

	var out bytes.Buffer
	if err := s.Assemble("blob.bin", n, &out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatal("reassembled data doesn't match original")
	}
}

func TestShardExactMultiple(t *testing.T) {
	s := NewStore(t.TempDir())

	data := bytes.Repeat([]byte("x"), 2048)
	n, err := s.ShardFile("even.bin", bytes.NewReader(data), 1024)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected exactly 2 chunks, got %d", n)
	}
}

func TestShardEmpty(t *testing.T) {
	s := NewStore(t.TempDir())

	n, err := s.ShardFile("empty", bytes.NewReader(nil), 1024)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no chunks, got %d", n)
	}
}

func TestAssembleMissingChunk(t *testing.T) {
	s := NewStore(t.TempDir())

	if err := s.WriteChunk("gap.bin", 0, []byte("a")); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := s.Assemble("gap.bin", 2, &out); err == nil {
		t.Fatal("expected an error for a missing chunk")
	}
}

func TestShardPathAndExport(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	s := NewStore(t.TempDir())

	data := make([]byte, 1300)
	rand.Read(data)
	path := filepath.Join(src, "notes.txt")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	name, n, err := s.ShardPath(path, 512)
	if err != nil {
		t.Fatal(err)
	}
	if name != "notes.txt" || n != 3 {
		t.Fatalf("expected notes.txt in 3 chunks, got %s in %d", name, n)
	}

	out, err := s.Export(name, n, dst)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("exported file differs from the original")
	}

	if _, err := s.Export(name, n, dst); err == nil {
		t.Fatal("export should refuse to overwrite")
	}
	entries, _ := os.ReadDir(dst)
	if len(entries) != 1 {
		t.Fatalf("expected only the exported file in %s, found %d entries", dst, len(entries))
	}
}
