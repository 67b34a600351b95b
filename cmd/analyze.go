package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/logging"
	"gc-diffbench/internal/oracle"
	"gc-diffbench/internal/report"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var reportFile, configFile string
	var oracles []string

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Re-evaluate the oracles over a finished or partial report",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.GetLogger()

			oracleCfg := config.DefaultOracleConfig()
			if configFile != "" {
				cfg, err := config.LoadConfig(configFile)
				if err != nil {
					return err
				}
				oracleCfg = cfg.Oracles
			}
			if len(oracles) > 0 {
				names, err := normalizeOracleNames(oracles)
				if err != nil {
					return err
				}
				oracleCfg.Enabled = names
			}

			registry, err := oracle.BuildRegistry(oracleCfg)
			if err != nil {
				return err
			}
			engine := oracle.NewEngine(registry, nil)

			rep, err := report.ReadReport(reportFile)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			total := 0
			for i := range rep.Targets {
				rec := &rep.Targets[i]
				cells, m := rec.Inputs()
				anomalies, warnings := engine.Evaluate(rec.FQCN, cells, m)
				for _, w := range warnings {
					logger.WithField("target", rec.FQCN).Warn(w)
				}
				for _, a := range anomalies {
					if err := enc.Encode(a); err != nil {
						return err
					}
				}
				total += len(anomalies)
			}

			logger.WithFields(logrus.Fields{
				"report":    reportFile,
				"targets":   len(rep.Targets),
				"anomalies": total,
				"finished":  rep.Summary != nil,
			}).Info("Analysis finished")
			return nil
		},
	}

	analyzeCmd.Flags().StringVar(&reportFile, "report", "", "Report to analyze")
	analyzeCmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration providing oracle settings")
	analyzeCmd.Flags().StringSliceVar(&oracles, "oracles", nil, "Oracles to run (default: all enabled)")
	analyzeCmd.MarkFlagRequired("report")
	return analyzeCmd
}

// normalizeOracleNames accepts underscores in place of hyphens and rejects
// unknown oracles.
func normalizeOracleNames(names []string) ([]string, error) {
	known := make(map[string]bool, len(oracle.BuiltinNames))
	for _, n := range oracle.BuiltinNames {
		known[n] = true
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
		if !known[n] {
			return nil, fmt.Errorf("unknown oracle %q, known: %s", name, strings.Join(oracle.BuiltinNames, ", "))
		}
		out = append(out, n)
	}
	return out, nil
}
