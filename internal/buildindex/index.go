// Package buildindex persists the build engine's bookkeeping in a
// single BoltDB file: pulled source snapshots, compiled cache entries,
// runtime references, and the stable-id lookup table. Everything is
// CBOR-encoded deterministically so the file depends only on logical
// content.
package buildindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/avalon-pipeline/databuild/internal/resource"
	"github.com/avalon-pipeline/databuild/internal/version"
)

var (
	// ErrExists is returned by Create when the index file is already
	// present.
	ErrExists = errors.New("build index already exists")

	// ErrNotFound is returned by lookups with no matching record.
	ErrNotFound = errors.New("not found in build index")

	// ErrVersionMismatch is returned by Open when the index was
	// written by a different data-build version. Indices are not
	// migrated; the caller recreates them.
	ErrVersionMismatch = errors.New("build index version mismatch")

	// ErrIntegrityFailure is returned by Open when the database fails
	// its consistency check.
	ErrIntegrityFailure = errors.New("build index integrity check failed")
)

var (
	bucketMeta      = []byte("meta")
	bucketResources = []byte("resources")
	bucketCompiled  = []byte("compiled")
	bucketRefs      = []byte("refs")
	bucketPathIDs   = []byte("pathids")

	metaVersion = []byte("version")
	metaProject = []byte("project")
)

// Index is the build index backing one project. The underlying bolt
// database holds a file lock, so concurrent engines in separate
// processes serialize on Open.
type Index struct {
	db *bbolt.DB
}

// Create creates a new index file recording the project it belongs
// to. It fails with ErrExists if path is already present; a stale
// index is deleted by the caller, never silently reused.
func Create(path, projectPath string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking build index %s: %w", path, err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("creating build index %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketResources, bucketCompiled, bucketRefs, bucketPathIDs} {
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(metaVersion, []byte(version.Data)); err != nil {
			return err
		}

		return meta.Put(metaProject, []byte(projectPath))
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("initializing build index %s: %w", path, err)
	}

	return &Index{db: db}, nil
}

// Open opens an existing index, validating its version tag and
// running bolt's consistency check.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening build index %s: %w", path, err)
	}

	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return fmt.Errorf("%w: missing meta bucket", ErrIntegrityFailure)
		}

		if got := string(meta.Get(metaVersion)); got != version.Data {
			return fmt.Errorf("%w: index %q, engine %q", ErrVersionMismatch, got, version.Data)
		}

		var problems []error
		for problem := range tx.Check() {
			problems = append(problems, problem)
		}
		if len(problems) > 0 {
			return fmt.Errorf("%w: %w", ErrIntegrityFailure, errors.Join(problems...))
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

// Close releases the database and its file lock.
func (x *Index) Close() error {
	return x.db.Close()
}

// ProjectPath returns the project index path recorded at creation.
func (x *Index) ProjectPath() (string, error) {
	var path string

	err := x.db.View(func(tx *bbolt.Tx) error {
		path = string(tx.Bucket(bucketMeta).Get(metaProject))
		return nil
	})
	if err != nil {
		return "", err
	}

	return path, nil
}

// UpdateResource records the pulled snapshot of one source resource.
// It reports whether the snapshot changed the index, which is how the
// pull counts updated resources.
func (x *Index) UpdateResource(info ResourceInfo) (bool, error) {
	data, err := marshal(info)
	if err != nil {
		return false, fmt.Errorf("encoding resource %s: %w", info.ID, err)
	}

	key := []byte(info.ID.String())
	changed := false

	err = x.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResources)
		if existing := bucket.Get(key); existing != nil && string(existing) == string(data) {
			return nil
		}

		changed = true
		return bucket.Put(key, data)
	})
	if err != nil {
		return false, fmt.Errorf("updating resource %s: %w", info.ID, err)
	}

	return changed, nil
}

// Resource returns the pulled snapshot of one source resource.
func (x *Index) Resource(id resource.PathID) (ResourceInfo, error) {
	var info ResourceInfo

	err := x.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResources).Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("%w: resource %s", ErrNotFound, id)
		}

		return unmarshal(data, &info)
	})
	if err != nil {
		return ResourceInfo{}, err
	}

	return info, nil
}

// Resources returns all pulled snapshots in key order.
func (x *Index) Resources() ([]ResourceInfo, error) {
	var infos []ResourceInfo

	err := x.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResources).ForEach(func(_, data []byte) error {
			var info ResourceInfo
			if err := unmarshal(data, &info); err != nil {
				return err
			}

			infos = append(infos, info)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}

	return infos, nil
}

// FindCompiled returns the cache entry for key, or ErrNotFound on a
// cache miss.
func (x *Index) FindCompiled(key Key) (CompiledRecord, error) {
	var record CompiledRecord

	err := x.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCompiled).Get(key.bytes())
		if data == nil {
			return fmt.Errorf("%w: compilation of %s", ErrNotFound, key.Path)
		}

		return unmarshal(data, &record)
	})
	if err != nil {
		return CompiledRecord{}, err
	}

	return record, nil
}

// RecordCompiled stores the cache entry for key and registers the
// stable id of every output so LookupPathID can resolve it later.
// Re-recording an existing key overwrites it; records are equivalent
// when keys are.
func (x *Index) RecordCompiled(key Key, record CompiledRecord) error {
	data, err := marshal(record)
	if err != nil {
		return fmt.Errorf("encoding compilation of %s: %w", key.Path, err)
	}

	err = x.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketCompiled).Put(key.bytes(), data); err != nil {
			return err
		}

		pathIDs := tx.Bucket(bucketPathIDs)
		for _, res := range record.Resources {
			if err := putPathID(pathIDs, res.Path); err != nil {
				return err
			}
		}

		for _, ref := range record.References {
			if err := putPathID(pathIDs, ref.To); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("recording compilation of %s: %w", key.Path, err)
	}

	return nil
}

// RegisterPathID records the stable id of a path without a compiled
// record, used when source resources enter the index during pull.
func (x *Index) RegisterPathID(path resource.PathID) error {
	err := x.db.Update(func(tx *bbolt.Tx) error {
		return putPathID(tx.Bucket(bucketPathIDs), path)
	})
	if err != nil {
		return fmt.Errorf("registering path id for %s: %w", path, err)
	}

	return nil
}

// LookupPathID resolves a stable resource id back to the path that
// produced it. Runtime code identifies content by these ids; the
// reverse mapping supports tooling and diagnostics.
func (x *Index) LookupPathID(id resource.ID) (resource.PathID, error) {
	var path resource.PathID

	err := x.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPathIDs).Get(pathIDKey(id))
		if data == nil {
			return fmt.Errorf("%w: path for id %s", ErrNotFound, id)
		}

		return path.UnmarshalText(data)
	})
	if err != nil {
		return resource.PathID{}, err
	}

	return path, nil
}

func putPathID(bucket *bbolt.Bucket, path resource.PathID) error {
	return bucket.Put(pathIDKey(path.ResourceID()), []byte(path.String()))
}

func pathIDKey(id resource.ID) []byte {
	key := make([]byte, 12)
	binary.BigEndian.PutUint32(key[:4], uint32(id.Kind))
	binary.BigEndian.PutUint64(key[4:], id.Num)
	return key
}
