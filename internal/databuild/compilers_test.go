package databuild

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
	"github.com/avalon-pipeline/databuild/internal/compiler"
	"github.com/avalon-pipeline/databuild/internal/project"
	"github.com/avalon-pipeline/databuild/internal/resource"
	"github.com/avalon-pipeline/databuild/internal/version"
)

var (
	textType      = resource.TypeFromName("text_resource")
	integerType   = resource.TypeFromName("integer_asset")
	reversedType  = resource.TypeFromName("reversed_text")
	multiTextType = resource.TypeFromName("multitext_resource")
)

// funcCompiler is an in-process test compiler with an invocation
// counter, so cache behavior is observable.
type funcCompiler struct {
	info  compiler.Info
	calls atomic.Int32
	run   func(job *compiler.Job, input []byte) (compiler.CompileOutput, error)
}

func (c *funcCompiler) Info() compiler.Info { return c.info }

func (c *funcCompiler) CompilerHash(env buildenv.Env) compiler.Hash {
	h := compiler.Hash(1)
	for _, b := range []byte(c.info.Name + env.String()) {
		h = h*31 + compiler.Hash(b)
	}

	return h
}

func (c *funcCompiler) Compile(_ context.Context, job *compiler.Job) (compiler.CompileOutput, error) {
	c.calls.Add(1)

	input, err := loadInput(job)
	if err != nil {
		return compiler.CompileOutput{}, err
	}

	return c.run(job, input)
}

// loadInput reads the step's input: source content from the project
// for the first step, the previous step's stored output otherwise.
func loadInput(job *compiler.Job) ([]byte, error) {
	if job.Source.IsSource() {
		return os.ReadFile(filepath.Join(job.ResourceDir, job.Source.SourceResource().String()))
	}

	for _, dep := range job.DerivedDeps {
		if dep.Path.Equal(job.Source) {
			return job.Store.Read(dep.ContentID)
		}
	}

	return nil, fmt.Errorf("input %s missing from derived dependencies", job.Source)
}

func newTestCompiler(name string, from, to resource.Type, run func(job *compiler.Job, input []byte) (compiler.CompileOutput, error)) *funcCompiler {
	return &funcCompiler{
		info: compiler.Info{
			Name:         name,
			BuildVersion: version.Data,
			InputType:    from,
			OutputType:   to,
		},
		run: run,
	}
}

func singleOutput(job *compiler.Job, payload []byte) (compiler.CompileOutput, error) {
	out, err := job.StoreOutput(payload, job.Target)
	if err != nil {
		return compiler.CompileOutput{}, err
	}

	return compiler.CompileOutput{CompiledResources: []compiler.CompiledResource{out}}, nil
}

type fixture struct {
	t     *testing.T
	proj  *project.FileProject
	build *Build
	env   buildenv.Env

	text2int *funcCompiler
	reverse  *funcCompiler
	rev2int  *funcCompiler
	split    *funcCompiler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t: t,
		env: buildenv.Env{
			Target:   buildenv.TargetGame,
			Platform: buildenv.PlatformUnix,
			Locale:   "en",
		},
	}

	f.text2int = newTestCompiler("text2int", textType, integerType,
		func(job *compiler.Job, input []byte) (compiler.CompileOutput, error) {
			value, err := strconv.ParseInt(strings.TrimSpace(string(input)), 10, 64)
			if err != nil {
				return compiler.CompileOutput{}, err
			}

			payload := make([]byte, 8)
			binary.LittleEndian.PutUint64(payload, uint64(value))
			return singleOutput(job, payload)
		})

	f.reverse = newTestCompiler("reverse", textType, reversedType,
		func(job *compiler.Job, input []byte) (compiler.CompileOutput, error) {
			out := make([]byte, len(input))
			for i, b := range input {
				out[len(input)-1-i] = b
			}

			return singleOutput(job, out)
		})

	// Reversed text still parses as a number, so chained two-step
	// paths get a terminal transform.
	f.rev2int = newTestCompiler("rev2int", reversedType, integerType,
		func(job *compiler.Job, input []byte) (compiler.CompileOutput, error) {
			value, err := strconv.ParseInt(strings.TrimSpace(string(input)), 10, 64)
			if err != nil {
				return compiler.CompileOutput{}, err
			}

			payload := make([]byte, 8)
			binary.LittleEndian.PutUint64(payload, uint64(value))
			return singleOutput(job, payload)
		})

	f.split = newTestCompiler("split", multiTextType, textType,
		func(job *compiler.Job, input []byte) (compiler.CompileOutput, error) {
			base, _ := job.Target.DirectDependency()

			var output compiler.CompileOutput
			for i, part := range strings.Split(string(input), ";") {
				named := base.PushNamed(textType, fmt.Sprintf("text_%d", i))
				out, err := job.StoreOutput([]byte(part), named)
				if err != nil {
					return compiler.CompileOutput{}, err
				}

				output.CompiledResources = append(output.CompiledResources, out)
			}

			return output, nil
		})

	dir := t.TempDir()
	proj, err := project.Create(filepath.Join(dir, "project"))
	require.NoError(t, err)
	f.proj = proj

	registry := compiler.NewInProcessRegistry()
	for _, c := range []*funcCompiler{f.text2int, f.reverse, f.rev2int, f.split} {
		require.NoError(t, registry.Register(c))
	}

	build, err := Options{
		BuildIndexPath: filepath.Join(dir, "build.index"),
		OutputDir:      filepath.Join(dir, "output"),
		Compilers:      registry,
	}.Create(context.Background(), proj)
	require.NoError(t, err)
	t.Cleanup(func() { build.Close() })
	f.build = build

	return f
}

func (f *fixture) pull() int {
	f.t.Helper()

	count, err := f.build.SourcePull(context.Background())
	require.NoError(f.t, err)
	return count
}

func (f *fixture) invocations() int {
	total := f.text2int.calls.Load() + f.reverse.calls.Load() + f.rev2int.calls.Load() + f.split.calls.Load()
	return int(total)
}

func (f *fixture) addText(name, content string) resource.ID {
	f.t.Helper()

	id, err := f.proj.AddResource(name, textType, []byte(content), nil)
	require.NoError(f.t, err)
	return id
}
