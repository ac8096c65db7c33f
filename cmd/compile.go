package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avalon-pipeline/databuild/internal/resource"
)

var compileCmd = &cobra.Command{
	Use:          "compile <resource-path>...",
	Short:        "Compile resource paths",
	Long:         `Pulls the project, compiles the requested paths, and prints the resulting manifest as JSON.`,
	Args:         cobra.MinimumNArgs(1),
	RunE:         runCompile,
	SilenceUsage: true,
}

func init() {
	compileCmd.Flags().StringP("manifest", "m", "", "Manifest file to merge results into")
	compileCmd.Flags().Bool("rt", false, "Print the runtime manifest keyed by stable ids")
}

func runCompile(cmd *cobra.Command, args []string) error {
	paths := make([]resource.PathID, 0, len(args))
	for _, arg := range args {
		path, err := resource.ParsePathID(arg)
		if err != nil {
			return fmt.Errorf("invalid resource path %q: %w", arg, err)
		}

		paths = append(paths, path)
	}

	build, cfg, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer build.Close()

	if _, err := build.SourcePull(cmd.Context()); err != nil {
		return err
	}

	m, err := build.CompileMany(cmd.Context(), paths, cfg.Env, cfg.Manifest)
	if err != nil {
		return err
	}

	var result any = m
	if rt, _ := cmd.Flags().GetBool("rt"); rt {
		result = m.IntoRuntime(nil)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
