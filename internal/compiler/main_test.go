package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
	"github.com/avalon-pipeline/databuild/internal/contentstore"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// upperCompiler uppercases the text payload of its source. Enough
// behavior to exercise the whole binary contract.
type upperCompiler struct {
	lastJob *Job
}

func (c *upperCompiler) Info() Info {
	return Info{
		Name:         "upper",
		BuildVersion: engineVersion,
		InputType:    textType,
		OutputType:   integerType,
	}
}

func (c *upperCompiler) CompilerHash(env buildenv.Env) Hash {
	if env.Target == buildenv.TargetServer {
		return 2
	}

	return 1
}

func (c *upperCompiler) Compile(_ context.Context, job *Job) (CompileOutput, error) {
	c.lastJob = job

	out, err := job.StoreOutput([]byte("COMPILED"), job.Target)
	if err != nil {
		return CompileOutput{}, err
	}

	return CompileOutput{CompiledResources: []CompiledResource{out}}, nil
}

func TestMainInfo(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := Main(&upperCompiler{}, []string{"info"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var info Info
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &info))
	assert.Equal(t, "upper", info.Name)
	assert.Equal(t, resource.Transform{From: textType, To: integerType}, info.Transform())
}

func TestMainCompilerHash(t *testing.T) {
	var stdout bytes.Buffer

	code := Main(&upperCompiler{}, []string{
		"compiler_hash", "--target=server", "--platform=unix", "--locale=en",
	}, &stdout, io.Discard)
	require.Equal(t, 0, code)

	var parsed struct {
		CompilerHash Hash `json:"compiler_hash"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &parsed))
	assert.Equal(t, Hash(2), parsed.CompilerHash)
}

func TestMainUsageErrors(t *testing.T) {
	var stderr bytes.Buffer

	assert.Equal(t, 1, Main(&upperCompiler{}, nil, io.Discard, &stderr))
	assert.Equal(t, 1, Main(&upperCompiler{}, []string{"frobnicate"}, io.Discard, &stderr))
	assert.Equal(t, 1, Main(&upperCompiler{}, []string{"compile", "--cas=/x"}, io.Discard, &stderr))
	assert.NotEmpty(t, stderr.String())
}

// TestProtocolLoopback drives the invoker against Main directly: the
// runner "spawns" the compiler in-process. Whatever the invoker
// serializes, Main must parse back into the identical request.
func TestProtocolLoopback(t *testing.T) {
	comp := &upperCompiler{}

	inv := fakeInvoker(func(_ context.Context, _ string, args []string) ([]byte, error) {
		var stdout, stderr bytes.Buffer
		if code := Main(comp, args, &stdout, &stderr); code != 0 {
			return nil, &ExecError{Binary: "compiler-upper", ExitCode: code, Stderr: stderr.String()}
		}

		return stdout.Bytes(), nil
	})

	casDir := t.TempDir()
	store, err := contentstore.Open(casDir)
	require.NoError(t, err)

	source := resource.PathFromID(resource.ID{Kind: textType, Num: 0x42})
	compilePath := source.Push(integerType)
	depPath := resource.PathFromID(resource.ID{Kind: textType, Num: 0x43})
	derived := CompiledResource{
		Path:      compilePath,
		ContentID: contentstore.HashContent([]byte("earlier step")),
		Size:      12,
	}

	info, err := inv.Info(context.Background(), "compiler-upper")
	require.NoError(t, err)
	assert.Equal(t, "upper", info.Name)

	hash, err := inv.CompilerHash(context.Background(), "compiler-upper", testEnv())
	require.NoError(t, err)
	assert.Equal(t, Hash(1), hash)

	output, err := inv.Compile(context.Background(), "compiler-upper", Request{
		CompilePath:  compilePath,
		Dependencies: []resource.PathID{depPath},
		DerivedDeps:  []CompiledResource{derived},
		CASAddr:      casDir,
		ResourceDir:  "/tmp/project",
		Env:          testEnv(),
	})
	require.NoError(t, err)

	require.NotNil(t, comp.lastJob)
	assert.True(t, comp.lastJob.Source.Equal(source))
	assert.True(t, comp.lastJob.Target.Equal(compilePath))
	require.Len(t, comp.lastJob.Dependencies, 1)
	assert.True(t, comp.lastJob.Dependencies[0].Equal(depPath))
	require.Len(t, comp.lastJob.DerivedDeps, 1)
	assert.Equal(t, derived, comp.lastJob.DerivedDeps[0])
	assert.Equal(t, "/tmp/project", comp.lastJob.ResourceDir)
	assert.Equal(t, testEnv(), comp.lastJob.Env)

	require.Len(t, output.CompiledResources, 1)
	stored, err := store.Read(output.CompiledResources[0].ContentID)
	require.NoError(t, err)
	assert.Equal(t, []byte("COMPILED"), stored)
}

func TestInProcessRegistry(t *testing.T) {
	reg := NewInProcessRegistry()
	require.NoError(t, reg.Register(&upperCompiler{}))

	err := reg.Register(&upperCompiler{})
	assert.ErrorIs(t, err, ErrDuplicate)

	instance, err := reg.Find(resource.Transform{From: textType, To: integerType})
	require.NoError(t, err)
	assert.Equal(t, "upper", instance.Info().Name)

	hash, err := instance.CompilerHash(context.Background(), testEnv())
	require.NoError(t, err)
	assert.Equal(t, Hash(1), hash)

	_, err = reg.Find(resource.Transform{From: integerType, To: textType})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, reg.List(), 1)
}
