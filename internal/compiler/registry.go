package compiler

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// Discovered is one compiler binary found by Scan, with the
// self-description it reported.
type Discovered struct {
	Path string
	Info Info
}

// Registry is the inventory of compiler binaries for one build
// session. It is a discovery scan, not a cache: sessions re-scan at
// start so newly installed compilers are picked up.
type Registry struct {
	invoker   *Invoker
	compilers []Discovered
}

// Scan discovers compiler binaries in the given directories: regular
// executable files whose name starts with BinaryPrefix, queried with
// the "info" command. Results are sorted by path so the inventory
// order never depends on directory enumeration order.
//
// Binaries that fail the info query, or whose build version does not
// match engineVersion, are skipped with a log line: a broken or stale
// compiler must not fail builds that never use its transform.
func Scan(ctx context.Context, dirs []string, engineVersion string, invoker *Invoker, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var binaries []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("scanning compiler directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), BinaryPrefix) {
				continue
			}

			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil || !isExecutable(info) {
				continue
			}

			binaries = append(binaries, path)
		}
	}

	sort.Strings(binaries)

	reg := &Registry{invoker: invoker}
	for _, path := range binaries {
		info, err := invoker.Info(ctx, path)
		if err != nil {
			logger.Warn("skipping compiler: info query failed", "binary", path, "error", err)
			continue
		}

		if info.BuildVersion != engineVersion {
			logger.Warn("skipping compiler: build version mismatch",
				"binary", path, "compiler", info.BuildVersion, "engine", engineVersion)
			continue
		}

		reg.compilers = append(reg.compilers, Discovered{Path: path, Info: info})
	}

	return reg, nil
}

func isExecutable(info fs.FileInfo) bool {
	if !info.Mode().IsRegular() {
		return false
	}

	if runtime.GOOS == "windows" {
		return true
	}

	return info.Mode().Perm()&0o111 != 0
}

// Find implements Source.
func (r *Registry) Find(t resource.Transform) (Instance, error) {
	var found *Discovered
	for i := range r.compilers {
		if r.compilers[i].Info.Transform() != t {
			continue
		}

		if found != nil {
			return nil, fmt.Errorf("%w %s: %s and %s",
				ErrDuplicate, t, found.Path, r.compilers[i].Path)
		}

		found = &r.compilers[i]
	}

	if found == nil {
		return nil, fmt.Errorf("%w: no compiler for transform %s", ErrNotFound, t)
	}

	return &processInstance{invoker: r.invoker, binary: found.Path, info: found.Info}, nil
}

// List implements Source.
func (r *Registry) List() []Info {
	infos := make([]Info, len(r.compilers))
	for i, c := range r.compilers {
		infos[i] = c.Info
	}

	return infos
}

// processInstance adapts one discovered binary to the Instance
// interface.
type processInstance struct {
	invoker *Invoker
	binary  string
	info    Info
}

func (p *processInstance) Info() Info {
	return p.info
}

func (p *processInstance) CompilerHash(ctx context.Context, env buildenv.Env) (Hash, error) {
	return p.invoker.CompilerHash(ctx, p.binary, env)
}

func (p *processInstance) Compile(ctx context.Context, req Request) (CompileOutput, error) {
	return p.invoker.Compile(ctx, p.binary, req)
}
