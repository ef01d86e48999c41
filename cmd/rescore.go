package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rescoreCompanyID string

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute scores for every lead in a company",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rescoreCompanyID == "" {
			return eris.New("--company is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.RecomputeScores(cmd.Context(), rescoreCompanyID)
		if err != nil {
			return err
		}
		zap.L().Info("rescore complete",
			zap.Int("scored", result.Scored),
			zap.Int("changed", result.Changed),
			zap.Int("failed", result.Failed))
		return nil
	},
}

func init() {
	rescoreCmd.Flags().StringVar(&rescoreCompanyID, "company", "", "company ID to rescore")
	rootCmd.AddCommand(rescoreCmd)
}
