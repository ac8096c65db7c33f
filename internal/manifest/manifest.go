// Package manifest holds the result of a data build: the mapping from
// derived resource paths to the content identifiers of their compiled
// payloads. Manifests serialize deterministically so two builds of
// unchanged content produce byte-identical files.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/avalon-pipeline/databuild/internal/contentstore"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// Entry is one compiled resource.
type Entry struct {
	Path      resource.PathID         `json:"path"`
	ContentID contentstore.Identifier `json:"content_id"`
	Size      int                     `json:"size"`
}

// Manifest maps derived resource paths to compiled content. The entry
// order is canonical: sorted by path expression regardless of the
// order compilations completed in.
type Manifest struct {
	entries map[string]Entry
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{entries: make(map[string]Entry)}
}

// Upsert adds an entry, replacing any previous entry for the same
// path. Recompiled paths supersede stale results when manifests are
// merged across builds.
func (m *Manifest) Upsert(e Entry) {
	m.entries[e.Path.String()] = e
}

// Merge upserts every entry of other into m.
func (m *Manifest) Merge(other *Manifest) {
	for _, e := range other.entries {
		m.Upsert(e)
	}
}

// Lookup returns the entry for path.
func (m *Manifest) Lookup(path resource.PathID) (Entry, bool) {
	e, ok := m.entries[path.String()]
	return e, ok
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Entries returns all entries in canonical order.
func (m *Manifest) Entries() []Entry {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, m.entries[k])
	}

	return entries
}

// MarshalJSON encodes the manifest as a sorted entry list.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Resources []Entry `json:"compiled_resources"`
	}{m.Entries()})
}

// UnmarshalJSON decodes an entry list.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var parsed struct {
		Resources []Entry `json:"compiled_resources"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}

	m.entries = make(map[string]Entry, len(parsed.Resources))
	for _, e := range parsed.Resources {
		m.Upsert(e)
	}

	return nil
}

// Load reads a manifest file. A missing file yields an empty
// manifest, so builds can merge into a manifest path that does not
// exist yet.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	return m, nil
}

// Save writes the manifest atomically: a temp file in the target
// directory, then a rename.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}

	return nil
}
