package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// Main implements the command-line contract of a compiler binary on
// top of an in-process Compiler. A compiler executable is then a
// one-liner:
//
//	func main() {
//		os.Exit(compiler.Main(&texCompiler{}, os.Args[1:], os.Stdout, os.Stderr))
//	}
//
// The returned value is the process exit code.
func Main(c Compiler, args []string, stdout, stderr io.Writer) int {
	if err := runMain(c, args, stdout); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	return 0
}

func runMain(c Compiler, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s|%s|%s", CommandInfo, CommandCompilerHash, CommandCompile)
	}

	switch args[0] {
	case CommandInfo:
		return writeJSON(stdout, c.Info())

	case CommandCompilerHash:
		env, err := parseEnvArgs(args[1:])
		if err != nil {
			return err
		}

		return writeJSON(stdout, struct {
			CompilerHash Hash `json:"compiler_hash"`
		}{c.CompilerHash(env)})

	case CommandCompile:
		req, err := parseCompileArgs(args[1:])
		if err != nil {
			return err
		}

		job, err := jobFromRequest(req)
		if err != nil {
			return err
		}

		output, err := c.Compile(context.Background(), job)
		if err != nil {
			return err
		}

		return writeJSON(stdout, output)
	}

	return fmt.Errorf("unknown command %q", args[0])
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

// scalar returns the value of a "--key=value" argument, or ok=false
// when the argument is a different flag.
func scalar(arg, key string) (string, bool) {
	return strings.CutPrefix(arg, "--"+key+"=")
}

func parseEnvArgs(args []string) (buildenv.Env, error) {
	var env buildenv.Env

	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--"+ArgTarget+"="):
			v, _ := scalar(arg, ArgTarget)
			target, err := buildenv.ParseTarget(v)
			if err != nil {
				return buildenv.Env{}, err
			}
			env.Target = target

		case strings.HasPrefix(arg, "--"+ArgPlatform+"="):
			v, _ := scalar(arg, ArgPlatform)
			platform, err := buildenv.ParsePlatform(v)
			if err != nil {
				return buildenv.Env{}, err
			}
			env.Platform = platform

		case strings.HasPrefix(arg, "--"+ArgLocale+"="):
			v, _ := scalar(arg, ArgLocale)
			env.Locale = buildenv.Locale(v)

		default:
			return buildenv.Env{}, fmt.Errorf("unknown argument %q", arg)
		}
	}

	return env, nil
}

func parseCompileArgs(args []string) (Request, error) {
	var req Request

	if len(args) == 0 || strings.HasPrefix(args[0], "--") {
		return Request{}, fmt.Errorf("missing compile path")
	}

	if err := req.CompilePath.UnmarshalText([]byte(args[0])); err != nil {
		return Request{}, err
	}
	args = args[1:]

	// list tracks which multi-value flag subsequent bare arguments
	// belong to.
	var list string

	for _, arg := range args {
		if v, ok := scalar(arg, ArgCAS); ok {
			req.CASAddr = v
			list = ""
			continue
		}
		if v, ok := scalar(arg, ArgResourceDir); ok {
			req.ResourceDir = v
			list = ""
			continue
		}
		if v, ok := scalar(arg, ArgTarget); ok {
			target, err := buildenv.ParseTarget(v)
			if err != nil {
				return Request{}, err
			}
			req.Env.Target = target
			list = ""
			continue
		}
		if v, ok := scalar(arg, ArgPlatform); ok {
			platform, err := buildenv.ParsePlatform(v)
			if err != nil {
				return Request{}, err
			}
			req.Env.Platform = platform
			list = ""
			continue
		}
		if v, ok := scalar(arg, ArgLocale); ok {
			req.Env.Locale = buildenv.Locale(v)
			list = ""
			continue
		}
		if arg == "--"+ArgDeps || arg == "--"+ArgDerivedDeps {
			list = arg
			continue
		}
		if strings.HasPrefix(arg, "--") {
			return Request{}, fmt.Errorf("unknown argument %q", arg)
		}

		switch list {
		case "--" + ArgDeps:
			var dep resource.PathID
			if err := dep.UnmarshalText([]byte(arg)); err != nil {
				return Request{}, err
			}
			req.Dependencies = append(req.Dependencies, dep)

		case "--" + ArgDerivedDeps:
			dep, err := parseDerivedDep(arg)
			if err != nil {
				return Request{}, err
			}
			req.DerivedDeps = append(req.DerivedDeps, dep)

		default:
			return Request{}, fmt.Errorf("unexpected argument %q", arg)
		}
	}

	return req, nil
}
