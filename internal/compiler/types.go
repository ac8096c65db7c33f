// Package compiler talks to data compilers: the external executables
// (or in-process implementations) that perform one resource transform
// each. It covers discovery of compiler binaries, the subprocess CLI
// protocol, and the compiler-side entrypoint for implementing a
// compiler binary in Go.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
	"github.com/avalon-pipeline/databuild/internal/contentstore"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// Hash is a compiler's identity for caching purposes: a value the
// compiler itself computes from its code version, data format version
// and the compilation environment. Same compiler plus same environment
// always yields the same hash.
//
// On the wire it is a decimal string, so consumers that parse JSON
// into floats never corrupt it.
type Hash uint64

// MarshalJSON implements json.Marshaler.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(h), 10))
}

// UnmarshalJSON implements json.Unmarshaler. Both string and number
// forms are accepted.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n uint64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid compiler hash %s", data)
		}

		*h = Hash(n)
		return nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid compiler hash %q: %w", s, err)
	}

	*h = Hash(v)
	return nil
}

// Info is a compiler's self-description, returned by the "info"
// command.
type Info struct {
	Name         string        `json:"name"`
	BuildVersion string        `json:"build_version"`
	CodeVersion  string        `json:"code_version"`
	DataVersion  string        `json:"data_version"`
	InputType    resource.Type `json:"input_type"`
	OutputType   resource.Type `json:"output_type"`
}

// Transform returns the transform the compiler declares.
func (i Info) Transform() resource.Transform {
	return resource.Transform{From: i.InputType, To: i.OutputType}
}

// CompiledResource describes one output of a compiler invocation: a
// derived path and the identifier of its bytes in the content store.
type CompiledResource struct {
	Path      resource.PathID         `json:"path"`
	ContentID contentstore.Identifier `json:"content_id"`
	Size      int                     `json:"size"`
}

// Reference is a load-time dependency between two produced outputs.
// On the wire it is a two-element array of path strings.
type Reference struct {
	From resource.PathID
	To   resource.PathID
}

// MarshalJSON implements json.Marshaler.
func (r Reference) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]resource.PathID{r.From, r.To})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Reference) UnmarshalJSON(data []byte) error {
	var pair [2]resource.PathID
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("invalid resource reference: %w", err)
	}

	r.From, r.To = pair[0], pair[1]
	return nil
}

// CompileOutput is the result of one compiler invocation, parsed from
// the "compile" command's stdout.
type CompileOutput struct {
	CompiledResources  []CompiledResource `json:"compiled_resources"`
	ResourceReferences []Reference        `json:"resource_references"`
}

// Request carries everything a compiler needs to compile one step.
type Request struct {
	// CompilePath is the derived path to produce, always unnamed -
	// names select outputs after compilation.
	CompilePath resource.PathID

	// Dependencies are the declared build dependencies of the input.
	Dependencies []resource.PathID

	// DerivedDeps are the outputs of earlier steps in the same path,
	// available to the compiler as already-compiled inputs.
	DerivedDeps []CompiledResource

	// CASAddr is the content store address outputs are written to.
	CASAddr string

	// ResourceDir is the project directory source content is read
	// from.
	ResourceDir string

	// Env is the compilation environment.
	Env buildenv.Env
}

// Instance is one usable compiler for a build session, either a
// subprocess wrapper or an in-process implementation.
type Instance interface {
	// Info returns the compiler's self-description.
	Info() Info

	// CompilerHash asks the compiler for its cache identity under
	// the given environment.
	CompilerHash(ctx context.Context, env buildenv.Env) (Hash, error)

	// Compile performs the transform described by req.
	Compile(ctx context.Context, req Request) (CompileOutput, error)
}

// Source answers transform lookups for a build session.
type Source interface {
	// Find returns the compiler for a transform. It fails with
	// ErrNotFound when no compiler declares the transform and with
	// ErrDuplicate when more than one does.
	Find(t resource.Transform) (Instance, error)

	// List returns all known compilers in deterministic order.
	List() []Info
}
