package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/avalon-pipeline/databuild/internal/config"
	"github.com/avalon-pipeline/databuild/internal/databuild"
	"github.com/avalon-pipeline/databuild/internal/version"
)

var rootCmd = &cobra.Command{
	Use:          "databuild",
	Short:        "Incremental data-build engine",
	Long:         `Compiles project resources through external data compilers, caching results by content.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	rootCmd.PersistentFlags().StringP("buildindex", "b", config.DefaultBuildIndex, "Path to the build index file")
	rootCmd.PersistentFlags().StringP("output", "o", config.DefaultOutputDir, "Content store directory for compiled output")
	rootCmd.PersistentFlags().StringSliceP("compiler-dir", "c", []string{}, "Directories scanned for compiler executables")
	rootCmd.PersistentFlags().StringP("target", "t", config.DefaultTarget, "Build target (game, server)")
	rootCmd.PersistentFlags().String("platform", config.DefaultPlatform(), "Build platform (windows, unix)")
	rootCmd.PersistentFlags().String("locale", config.DefaultLocale, "Build locale")
	rootCmd.PersistentFlags().Duration("timeout", config.DefaultCompileTimeout, "Upper bound on a single compiler invocation")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(compilersCmd)
}

// loadConfig resolves settings for a command run against projectDir.
func loadConfig(cmd *cobra.Command, projectDir string) (*config.Config, error) {
	return config.NewLoader().LoadForProject(cmd, projectDir)
}

// sessionOptions translates config into engine options with a logger
// matching the verbosity.
func sessionOptions(cfg *config.Config) databuild.Options {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return databuild.Options{
		BuildIndexPath: cfg.BuildIndex,
		OutputDir:      cfg.OutputDir,
		CompilerDirs:   cfg.CompilerDirs,
		CompileTimeout: cfg.CompileTimeout,
		Logger:         logger,
	}
}

// openSession opens an existing build index and its recorded project.
func openSession(cmd *cobra.Command) (*databuild.Build, *config.Config, error) {
	cfg, err := loadConfig(cmd, ".")
	if err != nil {
		return nil, nil, err
	}

	build, err := sessionOptions(cfg).OpenRecorded(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	return build, cfg, nil
}
