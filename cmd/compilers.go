package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/avalon-pipeline/databuild/internal/compiler"
	"github.com/avalon-pipeline/databuild/internal/databuild"
	"github.com/avalon-pipeline/databuild/internal/version"
)

var compilersCmd = &cobra.Command{
	Use:          "compilers",
	Short:        "List discovered data compilers",
	Long:         `Scans the configured compiler directories and lists every usable compiler and its transform.`,
	Args:         cobra.NoArgs,
	RunE:         runCompilers,
	SilenceUsage: true,
}

// runCompilers scans directly rather than opening a session: discovery
// needs only the configured directories, not a build index.
func runCompilers(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, ".")
	if err != nil {
		return err
	}

	opts := sessionOptions(cfg)
	timeout := opts.CompileTimeout
	if timeout == 0 {
		timeout = databuild.DefaultCompileTimeout
	}

	registry, err := compiler.Scan(cmd.Context(), cfg.CompilerDirs, version.Data, compiler.NewInvoker(timeout), opts.Logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTRANSFORM\tCODE\tDATA")
	for _, info := range registry.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, info.Transform(), info.CodeVersion, info.DataVersion)
	}

	return w.Flush()
}
