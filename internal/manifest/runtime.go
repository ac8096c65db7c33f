package manifest

import (
	"sort"

	"github.com/avalon-pipeline/databuild/internal/contentstore"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// RuntimeEntry is one compiled resource keyed by its stable id rather
// than its path. Runtime code loads content by id; paths are a
// build-time concept.
type RuntimeEntry struct {
	ID        resource.ID             `json:"id"`
	ContentID contentstore.Identifier `json:"content_id"`
	Size      int                     `json:"size"`
}

// Runtime is the runtime projection of a build manifest.
type Runtime struct {
	Entries []RuntimeEntry `json:"resources"`
}

// TypeFilter reports whether resources of a type belong in the
// runtime manifest. Intermediate types the runtime never loads are
// filtered out.
type TypeFilter func(resource.Type) bool

// IntoRuntime projects the manifest into its runtime form, keeping
// only entries whose content type passes filter. A nil filter keeps
// everything. Entries are sorted by id for deterministic output.
func (m *Manifest) IntoRuntime(filter TypeFilter) Runtime {
	var rt Runtime

	for _, e := range m.Entries() {
		if filter != nil && !filter(e.Path.ContentType()) {
			continue
		}

		rt.Entries = append(rt.Entries, RuntimeEntry{
			ID:        e.Path.ResourceID(),
			ContentID: e.ContentID,
			Size:      e.Size,
		})
	}

	sort.Slice(rt.Entries, func(i, j int) bool {
		return rt.Entries[i].ID.String() < rt.Entries[j].ID.String()
	})

	return rt
}
