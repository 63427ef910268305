package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DefaultChunkSize matches the swarm's wire chunk size.
const DefaultChunkSize = 512

// bufPool reuses chunk-sized buffers across concurrent sharding.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, DefaultChunkSize)
		return &buf
	},
}

// ChunkCount is the number of chunks a file of size bytes splits into.
func ChunkCount(size, chunkSize int64) uint32 {
	if size <= 0 {
		return 0
	}
	return uint32((size + chunkSize - 1) / chunkSize)
}

// ShardFile reads src in chunkSize pieces and stores piece i as chunk i of
// file. It returns the number of chunks written; an empty src yields none.
func (s *Store) ShardFile(file string, src io.Reader, chunkSize int64) (uint32, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var index uint32
	for {
		bufPtr := bufPool.Get().(*[]byte)
		buf := *bufPtr

		// the pool may hand back a buffer sized for a smaller chunk size
		if int64(len(buf)) < chunkSize {
			buf = make([]byte, chunkSize)
			bufPtr = &buf
		}

		n, err := io.ReadFull(src, buf[:chunkSize])
		if n == 0 {
			bufPool.Put(bufPtr)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				return 0, fmt.Errorf("chunk %d read error: %w", index, err)
			}
			break
		}

		writeErr := s.WriteChunk(file, index, buf[:n])
		bufPool.Put(bufPtr)
		if writeErr != nil {
			return 0, writeErr
		}
		index++

		// a short read means src ended inside this chunk
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("chunk %d read error: %w", index, err)
		}
	}
	return index, nil
}

// ShardPath shards the file at path under its base name.
func (s *Store) ShardPath(path string, chunkSize int64) (string, uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	name := filepath.Base(path)
	count, err := s.ShardFile(name, f, chunkSize)
	if err != nil {
		return "", 0, fmt.Errorf("shard %s: %w", path, err)
	}
	return name, count, nil
}

// Assemble writes chunks 0..count-1 of file to w in order.
func (s *Store) Assemble(file string, count uint32, w io.Writer) error {
	for i := uint32(0); i < count; i++ {
		data, err := s.ReadChunk(file, i)
		if err != nil {
			return fmt.Errorf("assemble %s: %w", file, err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// Export reassembles file into dir under its own name. It refuses to
// overwrite an existing file and never leaves a partial one behind.
func (s *Store) Export(file string, count uint32, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(file))
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("%s already exists", dst)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".swarm-*")
	if err != nil {
		return "", err
	}
	if err := s.Assemble(file, count, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dst, nil
}
