package project

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/avalon-pipeline/databuild/internal/resource"
)

// ErrNotFound is returned for resources absent from the project.
var ErrNotFound = errors.New("resource not found")

// IndexFilename is the name of the project index file.
const IndexFilename = "project.json"

type indexEntry struct {
	ID           resource.ID       `json:"id"`
	Name         string            `json:"name"`
	Dependencies []resource.PathID `json:"dependencies,omitempty"`
}

type indexContent struct {
	Resources []indexEntry `json:"resources"`
}

// FileProject is a directory-backed Project: an index file listing
// resources and one content file per resource, named by id.
type FileProject struct {
	dir     string
	content indexContent
}

// Create initializes a new empty project in dir.
func Create(dir string) (*FileProject, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating project directory: %w", err)
	}

	p := &FileProject{dir: dir}
	if _, err := os.Stat(p.IndexPath()); err == nil {
		return nil, fmt.Errorf("project index already exists at %s", p.IndexPath())
	}

	if err := p.flush(); err != nil {
		return nil, err
	}

	return p, nil
}

// Open opens an existing project directory.
func Open(dir string) (*FileProject, error) {
	p := &FileProject{dir: dir}

	data, err := os.ReadFile(p.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no project index at %s", ErrNotFound, p.IndexPath())
		}

		return nil, fmt.Errorf("reading project index: %w", err)
	}

	if err := json.Unmarshal(data, &p.content); err != nil {
		return nil, fmt.Errorf("parsing project index: %w", err)
	}

	return p, nil
}

// Dir implements Project.
func (p *FileProject) Dir() string {
	return p.dir
}

// IndexPath implements Project.
func (p *FileProject) IndexPath() string {
	return filepath.Join(p.dir, IndexFilename)
}

// List implements Project.
func (p *FileProject) List() ([]resource.ID, error) {
	ids := make([]resource.ID, 0, len(p.content.Resources))
	for _, e := range p.content.Resources {
		ids = append(ids, e.ID)
	}

	return ids, nil
}

// Exists implements Project.
func (p *FileProject) Exists(id resource.ID) bool {
	return p.find(id) != nil
}

// Info implements Project.
func (p *FileProject) Info(id resource.ID) (Info, error) {
	entry := p.find(id)
	if entry == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	content, err := os.ReadFile(p.ResourceFile(id))
	if err != nil {
		return Info{}, fmt.Errorf("reading resource %s: %w", id, err)
	}

	deps := make([]resource.PathID, len(entry.Dependencies))
	copy(deps, entry.Dependencies)

	return Info{
		Checksum:     checksum(content, deps),
		Dependencies: deps,
	}, nil
}

// ResourceFile returns the path of a resource's content file.
func (p *FileProject) ResourceFile(id resource.ID) string {
	return filepath.Join(p.dir, id.String())
}

// AddResource writes a new resource's content and registers it in the
// index under a human-readable name.
func (p *FileProject) AddResource(name string, kind resource.Type, content []byte, deps []resource.PathID) (resource.ID, error) {
	id := resource.NewID(kind)

	if err := os.WriteFile(p.ResourceFile(id), content, 0o644); err != nil {
		return resource.ID{}, fmt.Errorf("writing resource content: %w", err)
	}

	p.content.Resources = append(p.content.Resources, indexEntry{
		ID:           id,
		Name:         name,
		Dependencies: deps,
	})

	if err := p.flush(); err != nil {
		return resource.ID{}, err
	}

	return id, nil
}

// UpdateResource replaces a resource's content.
func (p *FileProject) UpdateResource(id resource.ID, content []byte) error {
	if p.find(id) == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := os.WriteFile(p.ResourceFile(id), content, 0o644); err != nil {
		return fmt.Errorf("writing resource content: %w", err)
	}

	return nil
}

// SetDependencies replaces a resource's declared dependency list.
func (p *FileProject) SetDependencies(id resource.ID, deps []resource.PathID) error {
	entry := p.find(id)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	entry.Dependencies = append([]resource.PathID(nil), deps...)
	return p.flush()
}

func (p *FileProject) find(id resource.ID) *indexEntry {
	for i := range p.content.Resources {
		if p.content.Resources[i].ID == id {
			return &p.content.Resources[i]
		}
	}

	return nil
}

func (p *FileProject) flush() error {
	data, err := json.MarshalIndent(&p.content, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project index: %w", err)
	}

	if err := os.WriteFile(p.IndexPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing project index: %w", err)
	}

	return nil
}

// checksum digests content plus the sorted dependency list, so both
// data edits and dependency edits register as changes.
func checksum(content []byte, deps []resource.PathID) uint64 {
	depStrs := make([]string, len(deps))
	for i, d := range deps {
		depStrs[i] = d.String()
	}
	sort.Strings(depStrs)

	h := blake3.New()
	h.Write(content)
	for _, d := range depStrs {
		h.Write([]byte{0})
		h.Write([]byte(d))
	}

	var sum [32]byte
	h.Sum(sum[:0])
	return binary.BigEndian.Uint64(sum[:8])
}
