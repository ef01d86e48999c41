package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-engine/internal/model"
)

var (
	aiCompanyID string
	aiActorID   string
	aiStatus    string
)

var aiCmd = &cobra.Command{
	Use:   "ai",
	Short: "Manage AI-suggested actions",
}

var aiScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Ask the generator for new suggested actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if aiCompanyID == "" {
			return eris.New("--company is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (PIPELINE_ANTHROPIC_KEY)")
		}

		result, err := env.Workflow.Scan(cmd.Context(), aiCompanyID, aiActorID, time.Now().UTC())
		if err != nil {
			return err
		}
		if result.Skipped {
			zap.L().Info("scan skipped",
				zap.Duration("retry_after", result.RetryAfter))
			return nil
		}
		zap.L().Info("scan complete",
			zap.Int("inserted", result.Inserted),
			zap.Int("rejected", result.Rejected))
		return nil
	},
}

var aiListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suggested actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if aiCompanyID == "" {
			return eris.New("--company is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		actions, err := env.Store.ListAIActions(cmd.Context(), aiCompanyID, model.ActionStatus(aiStatus), 0)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(actions)
	},
}

var aiApproveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Approve a pending suggested action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()
		return env.Workflow.Approve(cmd.Context(), args[0], time.Now().UTC())
	},
}

var aiDismissCmd = &cobra.Command{
	Use:   "dismiss <action-id>",
	Short: "Dismiss a pending suggested action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()
		return env.Workflow.Dismiss(cmd.Context(), args[0], time.Now().UTC())
	},
}

var aiExecuteCmd = &cobra.Command{
	Use:   "execute <action-id>",
	Short: "Execute an approved suggested action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()
		return env.Workflow.Execute(cmd.Context(), args[0], env.Engine.ApplySuggestion, time.Now().UTC())
	},
}

func init() {
	aiCmd.PersistentFlags().StringVar(&aiCompanyID, "company", "", "company ID")
	aiScanCmd.Flags().StringVar(&aiActorID, "actor", "cli", "actor ID for the scan cooldown")
	aiListCmd.Flags().StringVar(&aiStatus, "status", "", "filter by status (pending, approved, dismissed, executed)")

	aiCmd.AddCommand(aiScanCmd, aiListCmd, aiApproveCmd, aiDismissCmd, aiExecuteCmd)
	rootCmd.AddCommand(aiCmd)
}
