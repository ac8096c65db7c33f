package contentstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrNotFound is returned when no blob exists under an identifier.
var ErrNotFound = errors.New("content not found")

// ErrCorrupted is returned when a stored blob no longer matches its
// identifier. The store never repairs silently.
var ErrCorrupted = errors.New("content corrupted")

// Store is a filesystem-backed content-addressable store. Blobs live
// under <root>/<first two hex digits>/<identifier>.zst.
//
// Writes of identical content are idempotent, and the rename commit
// makes concurrent writers of the same blob safe: whichever rename
// lands last installs identical bytes.
type Store struct {
	root string

	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error
}

// Open opens (creating if needed) a store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating content store root: %w", err)
	}

	return &Store{root: dir}, nil
}

// Address returns the store's root directory. It is handed to compiler
// subprocesses so they can open the same store.
func (s *Store) Address() string {
	return s.root
}

func (s *Store) encoder() (*zstd.Encoder, error) {
	s.encOnce.Do(func() {
		s.enc, s.encErr = zstd.NewWriter(nil)
	})

	return s.enc, s.encErr
}

// Write stores data and returns its identifier. Writing content that
// already exists is a no-op.
func (s *Store) Write(data []byte) (Identifier, error) {
	id := HashContent(data)

	path := s.blobPath(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	enc, err := s.encoder()
	if err != nil {
		return Identifier{}, fmt.Errorf("initializing zstd encoder: %w", err)
	}

	compressed := enc.EncodeAll(data, nil)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Identifier{}, fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return Identifier{}, fmt.Errorf("creating temp blob: %w", err)
	}

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Identifier{}, fmt.Errorf("writing blob: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Identifier{}, fmt.Errorf("closing temp blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Identifier{}, fmt.Errorf("committing blob: %w", err)
	}

	return id, nil
}

// Read returns the content stored under id, verifying it against the
// identifier.
func (s *Store) Read(id Identifier) ([]byte, error) {
	compressed, err := os.ReadFile(s.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return nil, fmt.Errorf("reading blob %s: %w", id, err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing zstd decoder: %w", err)
	}
	defer dec.Close()

	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, id, err)
	}

	if HashContent(data) != id {
		return nil, fmt.Errorf("%w: %s: digest mismatch", ErrCorrupted, id)
	}

	return data, nil
}

// Exists reports whether a blob is present under id.
func (s *Store) Exists(id Identifier) bool {
	_, err := os.Stat(s.blobPath(id))
	return err == nil
}

func (s *Store) blobPath(id Identifier) string {
	hex := id.String()
	return filepath.Join(s.root, hex[:2], hex+".zst")
}
