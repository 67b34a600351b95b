// Package cmd holds the command line surface of gc-diffbench.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/logging"
	"gc-diffbench/internal/report"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit statuses. A report failure is distinguished from other errors
// because results may have been lost.
const (
	exitFailure  = 1
	exitReportIO = 2
	exitConfig   = 3
)

func loadEnvironment() {
	logger := logging.GetLogger()

	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}

	execPath, err := os.Executable()
	if err != nil {
		return
	}
	envFile = filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	}
}

func newRootCmd() *cobra.Command {
	var logLevel, logFormat string

	rootCmd := &cobra.Command{
		Use:   "gc-diffbench",
		Short: "Differential testing of JVM garbage collectors",
		Long: "Runs compiled programs under a matrix of runtime versions and garbage collectors, " +
			"parses the collector logs and reports divergences between the runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			switch logFormat {
			case "", "text":
			case "json":
				logging.SetFormatter(&logrus.JSONFormatter{})
			default:
				return fmt.Errorf("invalid log format %q", logFormat)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newResolveCmd(),
		newParseCmd(),
		newAnalyzeCmd(),
	)
	return rootCmd
}

// Execute runs the command tree and returns the process exit status.
func Execute() int {
	loadEnvironment()

	if err := newRootCmd().Execute(); err != nil {
		logging.GetLogger().WithError(err).Error("Command execution failed")
		return ExitCode(err)
	}
	return 0
}

// ExitCode maps an error returned by a command to an exit status.
func ExitCode(err error) int {
	var ioErr *report.IOError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ioErr):
		return exitReportIO
	case errors.Is(err, config.ErrInvalidConfig):
		return exitConfig
	default:
		return exitFailure
	}
}
