package resource

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// step is one transform node in a PathID: the output type plus an
// optional name selecting one of several compilation outputs.
type step struct {
	kind Type
	name string
}

// PathID addresses a node in the build graph: a source resource
// followed by zero or more transform steps. The string form is
//
//	<source-id>|<type>|<type>_<name>|...
//
// where each "|" segment is one transform, optionally carrying a name
// after the fixed-width type tag. Names may not contain '|'.
//
// PathID is a value type - Push and friends return copies, and two
// paths with the same source and transform chain compare equal.
type PathID struct {
	source ID
	steps  []step
}

// PathFromID returns the path addressing the bare source resource.
func PathFromID(id ID) PathID {
	return PathID{source: id}
}

// Push appends an unnamed transform producing the given type.
func (p PathID) Push(kind Type) PathID {
	return p.push(step{kind: kind})
}

// PushNamed appends a transform producing the named output of the
// given type. The name may not contain '|'.
func (p PathID) PushNamed(kind Type, name string) PathID {
	return p.push(step{kind: kind, name: name})
}

func (p PathID) push(s step) PathID {
	steps := make([]step, len(p.steps)+1)
	copy(steps, p.steps)
	steps[len(p.steps)] = s
	return PathID{source: p.source, steps: steps}
}

// Unnamed returns the path with the name stripped from the last
// transform. Compilers are always invoked on the unnamed path; names
// select outputs after the fact.
func (p PathID) Unnamed() PathID {
	if len(p.steps) == 0 || p.steps[len(p.steps)-1].name == "" {
		return p
	}

	steps := make([]step, len(p.steps))
	copy(steps, p.steps)
	steps[len(steps)-1].name = ""
	return PathID{source: p.source, steps: steps}
}

// IsNamed reports whether the last transform carries a name.
func (p PathID) IsNamed() bool {
	return len(p.steps) > 0 && p.steps[len(p.steps)-1].name != ""
}

// Name returns the name of the last transform, or "".
func (p PathID) Name() string {
	if len(p.steps) == 0 {
		return ""
	}

	return p.steps[len(p.steps)-1].name
}

// IsSource reports whether the path addresses a bare source resource.
func (p PathID) IsSource() bool {
	return len(p.steps) == 0
}

// SourceResource returns the id of the path's source resource.
func (p PathID) SourceResource() ID {
	return p.source
}

// ContentType returns the type of the resource the path addresses.
func (p PathID) ContentType() Type {
	if len(p.steps) == 0 {
		return p.source.Kind
	}

	return p.steps[len(p.steps)-1].kind
}

// LastTransform returns the transform that produces this path's
// resource. ok is false for a source path.
func (p PathID) LastTransform() (Transform, bool) {
	switch len(p.steps) {
	case 0:
		return Transform{}, false
	case 1:
		return Transform{From: p.source.Kind, To: p.steps[0].kind}, true
	default:
		n := len(p.steps)
		return Transform{From: p.steps[n-2].kind, To: p.steps[n-1].kind}, true
	}
}

// DirectDependency returns the path one transform shorter - the direct
// input of this path's producing step. ok is false for a source path.
func (p PathID) DirectDependency() (PathID, bool) {
	if len(p.steps) == 0 {
		return PathID{}, false
	}

	return PathID{source: p.source, steps: p.steps[:len(p.steps)-1]}, true
}

// ResourceID returns the stable id of the resource the path produces:
// the path's content type plus a 64-bit digest of its canonical string
// form. Runtime manifests are keyed by this id.
func (p PathID) ResourceID() ID {
	sum := blake3.Sum256([]byte(p.String()))
	return ID{Kind: p.ContentType(), Num: binary.BigEndian.Uint64(sum[:8])}
}

// String returns the canonical path expression.
func (p PathID) String() string {
	var b strings.Builder
	b.WriteString(p.source.String())

	for _, s := range p.steps {
		b.WriteByte('|')
		b.WriteString(s.kind.String())
		if s.name != "" {
			b.WriteByte('_')
			b.WriteString(s.name)
		}
	}

	return b.String()
}

// Equal reports whether two paths address the same build graph node.
func (p PathID) Equal(o PathID) bool {
	if p.source != o.source || len(p.steps) != len(o.steps) {
		return false
	}

	for i := range p.steps {
		if p.steps[i] != o.steps[i] {
			return false
		}
	}

	return true
}

// Compare orders paths by their canonical string form.
func (p PathID) Compare(o PathID) int {
	return strings.Compare(p.String(), o.String())
}

// ParsePathID parses a canonical path expression.
func ParsePathID(s string) (PathID, error) {
	segments := strings.Split(s, "|")

	source, err := ParseID(segments[0])
	if err != nil {
		return PathID{}, fmt.Errorf("invalid path %q: %w", s, err)
	}

	p := PathID{source: source}
	for _, seg := range segments[1:] {
		// Fixed-width type tag, optionally followed by "_<name>".
		if len(seg) < 8 {
			return PathID{}, fmt.Errorf("invalid path %q: short transform segment %q", s, seg)
		}

		kind, err := ParseType(seg[:8])
		if err != nil {
			return PathID{}, fmt.Errorf("invalid path %q: %w", s, err)
		}

		var name string
		switch {
		case len(seg) == 8:
		case seg[8] == '_':
			name = seg[9:]
		default:
			return PathID{}, fmt.Errorf("invalid path %q: malformed transform segment %q", s, seg)
		}

		p.steps = append(p.steps, step{kind: kind, name: name})
	}

	return p, nil
}

// MarshalText implements encoding.TextMarshaler.
func (p PathID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PathID) UnmarshalText(text []byte) error {
	parsed, err := ParsePathID(string(text))
	if err != nil {
		return err
	}

	*p = parsed
	return nil
}
