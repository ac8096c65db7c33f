package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avalon-pipeline/databuild/internal/project"
)

var createCmd = &cobra.Command{
	Use:          "create <project-dir>",
	Short:        "Create a build index for a project",
	Long:         `Creates a new build index pointing at the project and performs an initial source pull.`,
	Args:         cobra.ExactArgs(1),
	RunE:         runCreate,
	SilenceUsage: true,
}

func runCreate(cmd *cobra.Command, args []string) error {
	projectDir := args[0]

	cfg, err := loadConfig(cmd, projectDir)
	if err != nil {
		return err
	}

	proj, err := project.Open(projectDir)
	if err != nil {
		return err
	}

	build, err := sessionOptions(cfg).Create(cmd.Context(), proj)
	if err != nil {
		return err
	}
	defer build.Close()

	count, err := build.SourcePull(cmd.Context())
	if err != nil {
		// A half-initialized index must not survive: the next create
		// would refuse to overwrite it.
		build.Close()
		os.Remove(cfg.BuildIndex)
		return fmt.Errorf("initial source pull failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d resources pulled)\n", cfg.BuildIndex, count)
	return nil
}
