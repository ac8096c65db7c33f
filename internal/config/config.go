package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
)

// Default configuration values
const (
	DefaultBuildIndex     = "build.index"
	DefaultOutputDir      = "output"
	DefaultTarget         = "game"
	DefaultLocale         = "en"
	DefaultCompileTimeout = 15 * time.Minute
	DefaultVerbose        = false
)

// DefaultPlatform matches the host.
func DefaultPlatform() string {
	if runtime.GOOS == "windows" {
		return buildenv.PlatformWindows.String()
	}

	return buildenv.PlatformUnix.String()
}

// Holds the configuration options for databuild
type Config struct {
	// Path to the build index file
	BuildIndex string

	// Content store directory for compiled output
	OutputDir string

	// Directories scanned for compiler executables
	CompilerDirs []string

	// Compilation environment
	Env buildenv.Env

	// Upper bound on a single compiler invocation
	CompileTimeout time.Duration

	// Optional manifest file updated after compiles
	Manifest string

	// Enable verbose output
	Verbose bool
}

func Load() (*Config, error) {
	cfg := &Config{
		BuildIndex:     viper.GetString("buildindex"),
		OutputDir:      viper.GetString("output"),
		CompilerDirs:   viper.GetStringSlice("compiler_dir"),
		CompileTimeout: viper.GetDuration("compile_timeout"),
		Manifest:       viper.GetString("manifest"),
		Verbose:        viper.GetBool("verbose"),
	}

	target, err := buildenv.ParseTarget(viper.GetString("target"))
	if err != nil {
		return nil, err
	}

	platform, err := buildenv.ParsePlatform(viper.GetString("platform"))
	if err != nil {
		return nil, err
	}

	cfg.Env = buildenv.Env{
		Target:   target,
		Platform: platform,
		Locale:   buildenv.Locale(viper.GetString("locale")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if abs, err := filepath.Abs(c.BuildIndex); err == nil {
		c.BuildIndex = abs
	}

	if abs, err := filepath.Abs(c.OutputDir); err == nil {
		c.OutputDir = abs
	}

	if c.Manifest != "" {
		abs, err := filepath.Abs(c.Manifest)
		if err != nil {
			return fmt.Errorf("invalid manifest path: %v", err)
		}

		c.Manifest = abs
	}

	for i, dir := range c.CompilerDirs {
		if dir == "" {
			continue
		}

		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("invalid compiler directory: %v", err)
		}

		c.CompilerDirs[i] = abs
	}

	if c.Env.Locale == "" {
		return fmt.Errorf("locale must not be empty")
	}

	if c.CompileTimeout <= 0 {
		c.CompileTimeout = DefaultCompileTimeout
	}

	return nil
}
