package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/logging"
	"gc-diffbench/internal/target"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	var configFile, root string
	var asJSON bool

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "List the targets of a corpus and its layout errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.GetLogger()

			opts := target.DefaultOptions()
			var filter *target.Filter
			if configFile != "" {
				cfg, err := config.LoadConfig(configFile)
				if err != nil {
					return err
				}
				if root == "" {
					root = cfg.Harness.Root
				}
				opts = target.Options{
					Delimiters:   cfg.Harness.Delimiters,
					SkipSuffixes: cfg.Harness.SkipDirSuffixes,
					ArtifactExt:  cfg.Harness.ArtifactExt,
				}
				if filter, err = target.LoadFilter(cfg.Harness.Testcases, cfg.Harness.Skipclass); err != nil {
					return err
				}
			}
			if root == "" {
				return errors.New("no corpus root given")
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			targets, layoutErrors := 0, 0
			for t, err := range filter.Apply(target.NewResolver(root, opts).Targets()) {
				if err != nil {
					layoutErrors++
					logger.WithError(err).Warn("Layout error")
					continue
				}
				targets++
				if asJSON {
					if err := enc.Encode(t); err != nil {
						return err
					}
					continue
				}
				marker := ""
				if t.Ambiguous {
					marker = "\tambiguous"
				}
				fmt.Fprintf(out, "%s\t%d artifact(s)\t%s%s\n", t.FQCN(), len(t.Artifacts), t.Dir, marker)
			}

			logger.WithField("targets", targets).WithField("layout_errors", layoutErrors).Info("Resolution finished")
			return nil
		},
	}

	resolveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration providing root, delimiters and filters")
	resolveCmd.Flags().StringVar(&root, "root", "", "Corpus root directory")
	resolveCmd.Flags().BoolVar(&asJSON, "json", false, "Print targets as JSON lines")
	return resolveCmd
}
