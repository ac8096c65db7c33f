package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
)

// runner executes a compiler binary and returns its stdout. The seam
// exists so tests can substitute a fake process.
type runner func(ctx context.Context, binary string, args []string) ([]byte, error)

// Invoker runs compiler subprocess commands. Stateless; one process
// per call.
type Invoker struct {
	// Timeout bounds each subprocess. Zero disables the bound.
	Timeout time.Duration

	run runner
}

// NewInvoker returns an invoker executing real subprocesses.
func NewInvoker(timeout time.Duration) *Invoker {
	inv := &Invoker{Timeout: timeout}
	inv.run = inv.execute
	return inv
}

func (inv *Invoker) execute(ctx context.Context, binary string, args []string) ([]byte, error) {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, &ExecError{Binary: binary, Err: fmt.Errorf("timed out: %w", ctx.Err())}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExecError{
				Binary:   binary,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}

		return nil, &ExecError{Binary: binary, Err: err}
	}

	return stdout.Bytes(), nil
}

// Info runs the "info" command.
func (inv *Invoker) Info(ctx context.Context, binary string) (Info, error) {
	out, err := inv.run(ctx, binary, []string{CommandInfo})
	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return Info{}, fmt.Errorf("%w: %s info: %v", ErrInvalidOutput, binary, err)
	}

	return info, nil
}

// CompilerHash runs the "compiler_hash" command for an environment.
func (inv *Invoker) CompilerHash(ctx context.Context, binary string, env buildenv.Env) (Hash, error) {
	args := []string{
		CommandCompilerHash,
		"--" + ArgTarget + "=" + env.Target.String(),
		"--" + ArgPlatform + "=" + env.Platform.String(),
		"--" + ArgLocale + "=" + string(env.Locale),
	}

	out, err := inv.run(ctx, binary, args)
	if err != nil {
		return 0, err
	}

	var parsed struct {
		CompilerHash Hash `json:"compiler_hash"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("%w: %s compiler_hash: %v", ErrInvalidOutput, binary, err)
	}

	return parsed.CompilerHash, nil
}

// Compile runs the "compile" command.
func (inv *Invoker) Compile(ctx context.Context, binary string, req Request) (CompileOutput, error) {
	args := []string{CommandCompile, req.CompilePath.String()}

	if len(req.Dependencies) > 0 {
		args = append(args, "--"+ArgDeps)
		for _, dep := range req.Dependencies {
			args = append(args, dep.String())
		}
	}

	if len(req.DerivedDeps) > 0 {
		args = append(args, "--"+ArgDerivedDeps)
		for _, dep := range req.DerivedDeps {
			args = append(args, fmt.Sprintf("%s,%s,%d", dep.Path, dep.ContentID, dep.Size))
		}
	}

	args = append(args,
		"--"+ArgCAS+"="+req.CASAddr,
		"--"+ArgResourceDir+"="+req.ResourceDir,
		"--"+ArgTarget+"="+req.Env.Target.String(),
		"--"+ArgPlatform+"="+req.Env.Platform.String(),
		"--"+ArgLocale+"="+string(req.Env.Locale),
	)

	out, err := inv.run(ctx, binary, args)
	if err != nil {
		return CompileOutput{}, err
	}

	var output CompileOutput
	if err := json.Unmarshal(out, &output); err != nil {
		return CompileOutput{}, fmt.Errorf("%w: %s compile: %v", ErrInvalidOutput, binary, err)
	}

	return output, nil
}

// parseDerivedDep parses the "path,content_id,size" argument form
// produced by Compile.
func parseDerivedDep(s string) (CompiledResource, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return CompiledResource{}, fmt.Errorf("invalid derived dependency %q", s)
	}

	var dep CompiledResource
	if err := dep.Path.UnmarshalText([]byte(parts[0])); err != nil {
		return CompiledResource{}, err
	}
	if err := dep.ContentID.UnmarshalText([]byte(parts[1])); err != nil {
		return CompiledResource{}, err
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &dep.Size); err != nil {
		return CompiledResource{}, fmt.Errorf("invalid derived dependency size %q", parts[2])
	}

	return dep, nil
}
