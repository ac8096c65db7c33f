package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:          "pull",
	Short:        "Refresh the build index from the project",
	Long:         `Re-reads the project's resources and dependencies into the build index without compiling anything.`,
	Args:         cobra.NoArgs,
	RunE:         runPull,
	SilenceUsage: true,
}

func runPull(cmd *cobra.Command, _ []string) error {
	build, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer build.Close()

	count, err := build.SourcePull(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d resources updated\n", count)
	return nil
}
