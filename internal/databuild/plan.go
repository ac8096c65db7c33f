package databuild

import (
	"errors"
	"fmt"
	"strings"

	"github.com/avalon-pipeline/databuild/internal/buildindex"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// step is one node of a compile plan: the path produced at this
// position and the transform that produces it.
type step struct {
	// path is the derived path this step produces, including any
	// output name on the terminal step.
	path resource.PathID

	// transform is the (input, output) type pair a compiler must
	// match.
	transform resource.Transform

	// terminal marks the requested step.
	terminal bool
}

// expand turns a requested path into its forward evaluation plan by
// stripping transforms back to the bare source resource and
// reversing. A bare source path is ErrNothingToCompile.
func expand(path resource.PathID) ([]step, error) {
	if path.IsSource() {
		return nil, fmt.Errorf("%w: %s", ErrNothingToCompile, path)
	}

	var reversed []step
	for cur := path; !cur.IsSource(); {
		t, ok := cur.LastTransform()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNothingToCompile, cur)
		}

		reversed = append(reversed, step{path: cur, transform: t})

		prev, _ := cur.DirectDependency()
		cur = prev.Unnamed()
	}

	steps := make([]step, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		steps = append(steps, reversed[i])
	}
	steps[len(steps)-1].terminal = true

	return steps, nil
}

// dependencyWalk collects the content checksums of a source resource
// and everything it transitively depends on, detecting cycles along
// the way. Lookups go through the pull snapshot, not the live
// project, so compiles see the state of the last pull.
type dependencyWalk struct {
	index *buildindex.Index

	// onStack is the current DFS chain, used to report the cycle.
	onStack []resource.PathID
	visited map[string]bool

	checksums []uint64
}

func (w *dependencyWalk) visit(path resource.PathID) error {
	key := path.String()
	if w.visited == nil {
		w.visited = make(map[string]bool)
	}

	for _, active := range w.onStack {
		if active.Equal(path) {
			return fmt.Errorf("%w: %s", ErrCircularDependency, cycleString(w.onStack, path))
		}
	}

	if w.visited[key] {
		return nil
	}
	w.visited[key] = true

	info, err := w.index.Resource(path)
	if errors.Is(err, buildindex.ErrNotFound) {
		return fmt.Errorf("%w: %s (pull the project first)", ErrNotFound, path)
	}
	if err != nil {
		return err
	}

	w.checksums = append(w.checksums, info.Checksum)
	w.onStack = append(w.onStack, path)

	for _, dep := range info.Dependencies {
		// Derived dependencies are covered by their own compile
		// steps; the snapshot walk only follows source resources.
		if !dep.IsSource() {
			continue
		}

		if err := w.visit(dep); err != nil {
			return err
		}
	}

	w.onStack = w.onStack[:len(w.onStack)-1]
	return nil
}

func cycleString(stack []resource.PathID, repeat resource.PathID) string {
	var b strings.Builder

	start := 0
	for i, p := range stack {
		if p.Equal(repeat) {
			start = i
			break
		}
	}

	for _, p := range stack[start:] {
		b.WriteString(p.String())
		b.WriteString(" -> ")
	}
	b.WriteString(repeat.String())

	return b.String()
}
