package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	alertsCompanyID  string
	alertsRefreshSLA bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Derive the current alert list for a company",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsCompanyID == "" {
			return eris.New("--company is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		now := time.Now().UTC()
		if alertsRefreshSLA {
			result, err := env.Engine.RefreshSLA(cmd.Context(), alertsCompanyID, now)
			if err != nil {
				return err
			}
			zap.L().Info("sla refresh complete",
				zap.Int("updated", result.Updated),
				zap.Int("new_breaches", result.NewBreaches))
		}

		alerts, err := env.Engine.ComputeAlerts(cmd.Context(), alertsCompanyID, now)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(alerts)
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsCompanyID, "company", "", "company ID")
	alertsCmd.Flags().BoolVar(&alertsRefreshSLA, "refresh-sla", false, "rederive SLA deadlines before computing alerts")
	rootCmd.AddCommand(alertsCmd)
}
