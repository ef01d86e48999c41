package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-engine/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage scoring and automation rules",
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Validate and upsert a YAML rule bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := rules.LoadFile(args[0], time.Now().UTC())
		if err != nil {
			return err
		}

		s, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		scoringN, err := s.UpsertScoringRules(cmd.Context(), bundle.Scoring)
		if err != nil {
			return err
		}
		automationN, err := s.UpsertAutomationRules(cmd.Context(), bundle.Automation)
		if err != nil {
			return err
		}

		zap.L().Info("rules imported",
			zap.String("company_id", bundle.CompanyID),
			zap.Int64("scoring", scoringN),
			zap.Int64("automation", automationN))
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesImportCmd)
	rootCmd.AddCommand(rulesCmd)
}
