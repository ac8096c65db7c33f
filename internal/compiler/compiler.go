package compiler

import (
	"context"
	"fmt"
	"sort"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
	"github.com/avalon-pipeline/databuild/internal/contentstore"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// Job is the resolved view of a Request handed to an in-process
// compiler: the content store is opened and the source path is
// derived.
type Job struct {
	// Source is the direct input of the compiled step.
	Source resource.PathID

	// Target is the unnamed path being produced.
	Target resource.PathID

	// Dependencies are the declared build dependencies of the input.
	Dependencies []resource.PathID

	// DerivedDeps are outputs of earlier steps in the same path.
	DerivedDeps []CompiledResource

	// Store is the content store outputs are written to.
	Store *contentstore.Store

	// ResourceDir is the project directory with source content.
	ResourceDir string

	// Env is the compilation environment.
	Env buildenv.Env
}

// StoreOutput writes one produced output to the content store and
// returns its manifest entry.
func (j *Job) StoreOutput(data []byte, path resource.PathID) (CompiledResource, error) {
	id, err := j.Store.Write(data)
	if err != nil {
		return CompiledResource{}, fmt.Errorf("storing output %s: %w", path, err)
	}

	return CompiledResource{Path: path, ContentID: id, Size: len(data)}, nil
}

// DerivedDep returns the derived dependency compiled at path, for
// steps that consume a previous step's output. ok is false when the
// build engine did not provide it.
func (j *Job) DerivedDep(path resource.PathID) (CompiledResource, bool) {
	for _, dep := range j.DerivedDeps {
		if dep.Path.Equal(path) {
			return dep, true
		}
	}

	return CompiledResource{}, false
}

// Compiler is an in-process data compiler: the same contract as a
// compiler binary, without the process boundary. Binaries are the
// default; in-process compilers are the opt-in fast path for trusted
// code, and are what compiler binaries themselves implement behind
// Main.
type Compiler interface {
	// Info returns the compiler's self-description.
	Info() Info

	// CompilerHash computes the compiler's cache identity for an
	// environment. It must be deterministic.
	CompilerHash(env buildenv.Env) Hash

	// Compile performs the transform.
	Compile(ctx context.Context, job *Job) (CompileOutput, error)
}

// InProcessRegistry is a Source over registered in-process compilers.
// Registries are constructed values with a session lifecycle, not
// process-wide state.
type InProcessRegistry struct {
	byTransform map[resource.Transform]Compiler
}

// NewInProcessRegistry returns an empty registry.
func NewInProcessRegistry() *InProcessRegistry {
	return &InProcessRegistry{byTransform: make(map[resource.Transform]Compiler)}
}

// Register adds a compiler. Registering a second compiler for the
// same transform fails with ErrDuplicate.
func (r *InProcessRegistry) Register(c Compiler) error {
	t := c.Info().Transform()
	if _, ok := r.byTransform[t]; ok {
		return fmt.Errorf("%w %s", ErrDuplicate, t)
	}

	r.byTransform[t] = c
	return nil
}

// Find implements Source.
func (r *InProcessRegistry) Find(t resource.Transform) (Instance, error) {
	c, ok := r.byTransform[t]
	if !ok {
		return nil, fmt.Errorf("%w: no compiler for transform %s", ErrNotFound, t)
	}

	return &inProcessInstance{compiler: c}, nil
}

// List implements Source.
func (r *InProcessRegistry) List() []Info {
	infos := make([]Info, 0, len(r.byTransform))
	for _, c := range r.byTransform {
		infos = append(infos, c.Info())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Transform().String() < infos[j].Transform().String()
	})

	return infos
}

type inProcessInstance struct {
	compiler Compiler
}

func (p *inProcessInstance) Info() Info {
	return p.compiler.Info()
}

func (p *inProcessInstance) CompilerHash(_ context.Context, env buildenv.Env) (Hash, error) {
	return p.compiler.CompilerHash(env), nil
}

func (p *inProcessInstance) Compile(ctx context.Context, req Request) (CompileOutput, error) {
	job, err := jobFromRequest(req)
	if err != nil {
		return CompileOutput{}, err
	}

	return p.compiler.Compile(ctx, job)
}

func jobFromRequest(req Request) (*Job, error) {
	store, err := contentstore.Open(req.CASAddr)
	if err != nil {
		return nil, fmt.Errorf("opening content store %s: %w", req.CASAddr, err)
	}

	source, ok := req.CompilePath.DirectDependency()
	if !ok {
		return nil, fmt.Errorf("compile path %s has no transform to perform", req.CompilePath)
	}

	return &Job{
		Source:       source,
		Target:       req.CompilePath,
		Dependencies: req.Dependencies,
		DerivedDeps:  req.DerivedDeps,
		Store:        store,
		ResourceDir:  req.ResourceDir,
		Env:          req.Env,
	}, nil
}
