package cmd

import (
	"fmt"
	"strings"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/logging"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var configFile string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration and print its matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.GetLogger()

			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
				return err
			}
			checksum, err := config.MatrixChecksum(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, entry := range cfg.Matrix() {
				fmt.Fprintf(out, "%s\t%s\t%s\n", entry.Runtime, entry.Collector, strings.Join(entry.Flags, " "))
			}
			fmt.Fprintf(out, "matrix_checksum\t%s\n", checksum)

			logger.WithField("config_file", configFile).Info("Configuration is valid")
			return nil
		},
	}

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to matrix configuration file")
	validateCmd.MarkFlagRequired("config")
	return validateCmd
}
