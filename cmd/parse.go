package cmd

import (
	"encoding/json"
	"fmt"

	"gc-diffbench/internal/gclog"

	"github.com/spf13/cobra"
)

func newParseCmd() *cobra.Command {
	var collector string

	parseCmd := &cobra.Command{
		Use:   "parse <gc-log>",
		Short: "Parse a collector log and print its metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			declared := gclog.CollectorType(collector)
			if collector != "" && !gclog.DefaultRegistry().Known(declared) {
				return fmt.Errorf("unknown collector %q, known: %v", collector, gclog.DefaultRegistry().Collectors())
			}
			m, err := gclog.Parse(args[0], declared)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}

	parseCmd.Flags().StringVar(&collector, "collector", "", "Collector that wrote the log (default: from file name or content)")
	return parseCmd
}
