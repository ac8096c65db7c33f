// Package project defines the contract the build engine requires from
// the offline resource registry, plus a JSON-file-backed
// implementation used by the CLI and the test suite.
//
// The engine only ever asks a project three questions: which resources
// exist, what is a resource's current content checksum, and what
// build dependencies does it declare. Everything else about resource
// authoring stays outside the engine.
package project

import (
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// Info is the build-relevant view of one source resource.
type Info struct {
	// Checksum covers the resource's serialized content and its
	// declared dependency list. It changes exactly when the logical
	// input data changes.
	Checksum uint64

	// Dependencies are the resource's declared build dependencies.
	// Entries may address other source resources or derived paths.
	Dependencies []resource.PathID
}

// Project is the registry of offline source resources.
type Project interface {
	// List returns the ids of all resources in the project.
	List() ([]resource.ID, error)

	// Exists reports whether a resource is present.
	Exists(id resource.ID) bool

	// Info returns the build-relevant metadata of a resource.
	Info(id resource.ID) (Info, error)

	// Dir is the directory compilers read source content from.
	Dir() string

	// IndexPath is the project's index file, recorded in the build
	// index so later sessions reopen the same project.
	IndexPath() string
}
