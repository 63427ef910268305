// Package storage keeps a peer's chunks on disk. Chunks are stored in a
// content-addressed tree keyed by file name and chunk index, and complete
// files are reassembled from them on demand.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Path struct {
	Path     string
	Filename string
}

func (p Path) FullPath() string {
	return filepath.Join(p.Path, p.Filename)
}

// Store lays chunks out as a CAS tree: the SHA-256 of the key is split into
// four directory levels so no single directory grows too large.
type Store struct {
	RootDir string
}

func NewStore(rootDir string) *Store {
	return &Store{
		RootDir: rootDir,
	}
}

// ChunkKey names one chunk of one file inside the store.
func ChunkKey(file string, chunk uint32) string {
	return fmt.Sprintf("%s#%d", file, chunk)
}

func (s *Store) GetCASPath(key string) Path {
	hash256 := sha256.Sum256([]byte(key))
	hash := hex.EncodeToString(hash256[:])

	return Path{
		Path:     filepath.Join(s.RootDir, hash[0:8], hash[8:16], hash[16:24], hash[24:32]),
		Filename: hash,
	}
}

// WriteRaw stores data under key. The bytes go to a temp file first and are
// renamed into place, so a concurrent reader sees either nothing or the whole
// chunk.
func (s *Store) WriteRaw(key string, data []byte) error {
	cas := s.GetCASPath(key)
	if err := os.MkdirAll(cas.Path, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(cas.Path, cas.Filename+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), cas.FullPath())
}

// ReadStream opens the value stored under key and returns its size.
func (s *Store) ReadStream(key string) (int64, io.ReadCloser, error) {
	file, err := os.Open(s.GetCASPath(key).FullPath())
	if err != nil {
		return 0, nil, err
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return 0, nil, err
	}
	return fi.Size(), file, nil
}

func (s *Store) WriteChunk(file string, chunk uint32, data []byte) error {
	if err := s.WriteRaw(ChunkKey(file, chunk), data); err != nil {
		return fmt.Errorf("write chunk %d of %s: %w", chunk, file, err)
	}
	return nil
}

// ReadChunk returns the raw bytes of one chunk.
func (s *Store) ReadChunk(file string, chunk uint32) ([]byte, error) {
	size, r, err := s.ReadStream(ChunkKey(file, chunk))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read chunk %d of %s: %w", chunk, file, err)
	}
	return data, nil
}
