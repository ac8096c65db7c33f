// Package databuild is the build engine's public surface: it owns the
// build index, the content store and a compiler source, and turns
// compile requests into manifests, reusing cached results whenever
// the context and source hashes of a step are unchanged.
package databuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
	"github.com/avalon-pipeline/databuild/internal/buildindex"
	"github.com/avalon-pipeline/databuild/internal/compiler"
	"github.com/avalon-pipeline/databuild/internal/contentstore"
	"github.com/avalon-pipeline/databuild/internal/manifest"
	"github.com/avalon-pipeline/databuild/internal/project"
	"github.com/avalon-pipeline/databuild/internal/resource"
	"github.com/avalon-pipeline/databuild/internal/version"
)

// DefaultCompileTimeout bounds a single compiler invocation. Data
// compiles can legitimately run long; the bound exists to catch hangs,
// not to police slow compilers.
const DefaultCompileTimeout = 15 * time.Minute

// Options configures a build session.
type Options struct {
	// BuildIndexPath is the single index file.
	BuildIndexPath string

	// OutputDir is the content store root compiled payloads and
	// linked assets are written to.
	OutputDir string

	// CompilerDirs are scanned for compiler executables at session
	// start. Ignored when Compilers is set.
	CompilerDirs []string

	// Compilers overrides subprocess discovery with an explicit
	// source, typically an in-process registry.
	Compilers compiler.Source

	// CompileTimeout bounds each compiler subprocess. Zero means
	// DefaultCompileTimeout.
	CompileTimeout time.Duration

	// Logger receives engine events. Nil discards them.
	Logger *slog.Logger
}

// Build is one build session over a project. Safe for concurrent use;
// compiles of the same step coalesce into a single invocation.
type Build struct {
	index     *buildindex.Index
	store     *contentstore.Store
	proj      project.Project
	compilers compiler.Source
	logger    *slog.Logger

	// sf coalesces concurrent compiles of the same cache key.
	sf singleflight.Group
}

// Create makes a new build index for proj and returns a session over
// it. It fails if an index already exists at the configured path.
func (o Options) Create(ctx context.Context, proj project.Project) (*Build, error) {
	index, err := buildindex.Create(o.BuildIndexPath, proj.IndexPath())
	if err != nil {
		return nil, err
	}

	return o.open(ctx, index, proj)
}

// Open opens an existing build index for proj.
func (o Options) Open(ctx context.Context, proj project.Project) (*Build, error) {
	index, err := buildindex.Open(o.BuildIndexPath)
	if err != nil {
		return nil, err
	}

	return o.open(ctx, index, proj)
}

// OpenRecorded opens an existing build index and the file project it
// was created against, located through the project path recorded at
// creation.
func (o Options) OpenRecorded(ctx context.Context) (*Build, error) {
	index, err := buildindex.Open(o.BuildIndexPath)
	if err != nil {
		return nil, err
	}

	recorded, err := index.ProjectPath()
	if err != nil {
		index.Close()
		return nil, err
	}

	proj, err := project.Open(filepath.Dir(recorded))
	if err != nil {
		index.Close()
		return nil, err
	}

	return o.open(ctx, index, proj)
}

func (o Options) open(ctx context.Context, index *buildindex.Index, proj project.Project) (*Build, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := contentstore.Open(o.OutputDir)
	if err != nil {
		index.Close()
		return nil, err
	}

	compilers := o.Compilers
	if compilers == nil {
		timeout := o.CompileTimeout
		if timeout == 0 {
			timeout = DefaultCompileTimeout
		}

		registry, err := compiler.Scan(ctx, o.CompilerDirs, version.Data, compiler.NewInvoker(timeout), logger)
		if err != nil {
			index.Close()
			return nil, err
		}
		compilers = registry
	}

	return &Build{
		index:     index,
		store:     store,
		proj:      proj,
		compilers: compilers,
		logger:    logger,
	}, nil
}

// Close releases the build index and its file lock.
func (b *Build) Close() error {
	return b.index.Close()
}

// Compilers lists the transforms the session can perform.
func (b *Build) Compilers() []compiler.Info {
	return b.compilers.List()
}

// LookupPathID resolves a stable runtime id back to the path that
// produced it.
func (b *Build) LookupPathID(id resource.ID) (resource.PathID, error) {
	return b.index.LookupPathID(id)
}

// SourcePull refreshes the index's project snapshot: every resource's
// checksum and dependency list. It returns the number of resources
// whose snapshot changed. No compilation happens; compiles stay lazy.
func (b *Build) SourcePull(ctx context.Context) (int, error) {
	ids, err := b.proj.List()
	if err != nil {
		return 0, fmt.Errorf("listing project resources: %w", err)
	}

	updated := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		info, err := b.proj.Info(id)
		if err != nil {
			return updated, fmt.Errorf("reading resource %s: %w", id, err)
		}

		path := resource.PathFromID(id)
		changed, err := b.index.UpdateResource(buildindex.ResourceInfo{
			ID:           path,
			Dependencies: info.Dependencies,
			Checksum:     info.Checksum,
		})
		if err != nil {
			return updated, err
		}

		if err := b.index.RegisterPathID(path); err != nil {
			return updated, err
		}

		if changed {
			updated++
		}
	}

	b.logger.Debug("source pull complete", "resources", len(ids), "updated", updated)
	return updated, nil
}

// Compile builds the requested path for env and returns the manifest
// of everything produced along the way. When manifestFile is
// non-empty, the file is updated by merging: recompiled paths replace
// their old entries, unrelated entries survive.
func (b *Build) Compile(ctx context.Context, path resource.PathID, env buildenv.Env, manifestFile string) (*manifest.Manifest, error) {
	m, err := b.compilePath(ctx, path, env)
	if err != nil {
		return nil, err
	}

	if manifestFile != "" {
		if err := mergeManifestFile(manifestFile, m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// CompileMany builds independent paths concurrently and merges their
// manifests. Steps shared between paths still compile once, through
// the same per-key coalescing Compile uses.
func (b *Build) CompileMany(ctx context.Context, paths []resource.PathID, env buildenv.Env, manifestFile string) (*manifest.Manifest, error) {
	merged := manifest.New()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			m, err := b.compilePath(gctx, path, env)
			if err != nil {
				return err
			}

			mu.Lock()
			merged.Merge(m)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if manifestFile != "" {
		if err := mergeManifestFile(manifestFile, merged); err != nil {
			return nil, err
		}
	}

	return merged, nil
}

func (b *Build) compilePath(ctx context.Context, path resource.PathID, env buildenv.Env) (*manifest.Manifest, error) {
	steps, err := expand(path)
	if err != nil {
		return nil, err
	}

	sourcePath := resource.PathFromID(path.SourceResource())
	sourceInfo, err := b.index.Resource(sourcePath)
	if errors.Is(err, buildindex.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s (pull the project first)", ErrNotFound, sourcePath)
	}
	if err != nil {
		return nil, err
	}

	m := manifest.New()

	// Outputs of earlier steps feed later ones, both as the derived
	// source hash and as derived dependencies on the request.
	var derivedDeps []compiler.CompiledResource
	var prevOutput contentstore.Identifier

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		compilePath := s.path.Unnamed()

		instance, err := b.compilers.Find(s.transform)
		if err != nil {
			return nil, err
		}

		cHash, err := instance.CompilerHash(ctx, env)
		if err != nil {
			return nil, err
		}

		key := buildindex.Key{
			Path:        compilePath,
			ContextHash: contextHash(s.transform, cHash),
		}

		if i > 0 {
			key.SourceHash = prevOutput.Uint64()
		} else {
			key.SourceHash, err = b.sourceHash(sourcePath)
			if err != nil {
				return nil, err
			}
		}

		record, err := b.compileStep(ctx, instance, compilePath, key, sourceInfo.Dependencies, derivedDeps, env)
		if err != nil {
			return nil, err
		}

		if s.terminal {
			if _, err := terminalOutput(record, compilePath, s.transform.To); err != nil {
				return nil, err
			}
		} else {
			// The next step consumes one specific output, possibly a
			// named one from a multi-output compile. Its content id
			// becomes the derived source hash, so only an exact match
			// will do.
			feed, _ := steps[i+1].path.DirectDependency()
			output, err := stepOutput(record, feed)
			if err != nil {
				return nil, err
			}
			prevOutput = output.ContentID
		}

		for _, res := range record.Resources {
			derivedDeps = append(derivedDeps, compiler.CompiledResource{
				Path:      res.Path,
				ContentID: res.ContentID,
				Size:      res.Size,
			})

			entry, err := link(b.store, res, record.References)
			if err != nil {
				return nil, err
			}
			m.Upsert(entry)
		}
	}

	return m, nil
}

// compileStep serves one step from the cache or compiles it. The
// singleflight key guarantees at most one concurrent invocation per
// (context hash, source hash, path).
func (b *Build) compileStep(
	ctx context.Context,
	instance compiler.Instance,
	compilePath resource.PathID,
	key buildindex.Key,
	deps []resource.PathID,
	derivedDeps []compiler.CompiledResource,
	env buildenv.Env,
) (buildindex.CompiledRecord, error) {
	sfKey := fmt.Sprintf("%016x-%016x-%s", key.ContextHash, key.SourceHash, compilePath)

	result, err, _ := b.sf.Do(sfKey, func() (any, error) {
		if record, err := b.index.FindCompiled(key); err == nil {
			b.logger.Debug("cache hit", "path", compilePath.String(),
				"context_hash", key.ContextHash, "source_hash", key.SourceHash)
			return record, nil
		} else if !errors.Is(err, buildindex.ErrNotFound) {
			return nil, err
		}

		start := time.Now()
		output, err := instance.Compile(ctx, compiler.Request{
			CompilePath:  compilePath,
			Dependencies: deps,
			DerivedDeps:  derivedDeps,
			CASAddr:      b.store.Address(),
			ResourceDir:  b.proj.Dir(),
			Env:          env,
		})
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %w", compilePath, err)
		}

		record := recordFromOutput(output)
		if err := b.index.RecordCompiled(key, record); err != nil {
			return nil, err
		}

		b.logger.Info("compiled", "path", compilePath.String(),
			"outputs", len(record.Resources), "duration", time.Since(start))
		return record, nil
	})
	if err != nil {
		return buildindex.CompiledRecord{}, err
	}

	return result.(buildindex.CompiledRecord), nil
}

// sourceHash folds the content checksums of the source resource and
// its transitive source dependencies, order-independently. It never
// depends on the compilation context.
func (b *Build) sourceHash(sourcePath resource.PathID) (uint64, error) {
	walk := dependencyWalk{index: b.index}
	if err := walk.visit(sourcePath); err != nil {
		return 0, err
	}

	return foldChecksums(walk.checksums), nil
}

// stepOutput picks the record entry feeding the next step. feed may
// name one output of a multi-output compile, and the derived source
// hash must track exactly that output, so no type fallback applies.
func stepOutput(record buildindex.CompiledRecord, feed resource.PathID) (buildindex.CompiledResource, error) {
	for _, res := range record.Resources {
		if res.Path.Equal(feed) {
			return res, nil
		}
	}

	return buildindex.CompiledResource{}, fmt.Errorf("%w: %s", ErrOutputNotPresent, feed)
}

// terminalOutput checks the requested step produced something: the
// exact compile path when present, otherwise any output of the
// declared type. A record with neither violates the compiler
// contract.
func terminalOutput(record buildindex.CompiledRecord, compilePath resource.PathID, outputType resource.Type) (buildindex.CompiledResource, error) {
	for _, res := range record.Resources {
		if res.Path.Equal(compilePath) {
			return res, nil
		}
	}

	for _, res := range record.Resources {
		if res.Path.ContentType() == outputType {
			return res, nil
		}
	}

	return buildindex.CompiledResource{}, fmt.Errorf("%w: no %s output for %s", ErrOutputNotPresent, outputType, compilePath)
}

func recordFromOutput(output compiler.CompileOutput) buildindex.CompiledRecord {
	record := buildindex.CompiledRecord{
		Resources: make([]buildindex.CompiledResource, 0, len(output.CompiledResources)),
	}

	for _, res := range output.CompiledResources {
		record.Resources = append(record.Resources, buildindex.CompiledResource{
			Path:      res.Path,
			ContentID: res.ContentID,
			Size:      res.Size,
		})
	}

	for _, ref := range output.ResourceReferences {
		record.References = append(record.References, buildindex.Reference{
			From: ref.From,
			To:   ref.To,
		})
	}

	return record
}

func mergeManifestFile(path string, m *manifest.Manifest) error {
	existing, err := manifest.Load(path)
	if err != nil {
		return err
	}

	existing.Merge(m)
	return existing.Save(path)
}
