package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stagehand-sh/stagehand/internal/types"
)

var (
	claimRole   string
	claimRunID  string
	claimSprint string
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim one Ready work item for a run",
	Long: `Scans Ready project items in ascending issue-number order and claims the
first one not held by a live lease. The claim is recorded as an issue
comment and verified by re-reading; losing the re-read is a skip, not an
error. Retrying with the same --run-id is idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := types.ParseRole(claimRole)
		if err != nil {
			return err
		}
		if claimRunID == "" {
			claimRunID = uuid.NewString()
		}

		app, err := buildApp()
		if err != nil {
			return err
		}

		outcome, err := app.coordinator.ClaimReadyItem(cmd.Context(), role, claimRunID, claimSprint)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printResult(outcome)
		}
		if outcome.Claimed == nil {
			fmt.Printf("No claimable item (%s)\n", outcome.Reason)
			return nil
		}
		c := outcome.Claimed
		fmt.Printf("Claimed issue #%d (%s)\n", c.IssueNumber, c.ProjectItemID)
		fmt.Printf("  branch: %s\n", c.Branch)
		for field, value := range c.FieldsSet {
			fmt.Printf("  %s: %s\n", field, value)
		}
		return nil
	},
}

func init() {
	claimCmd.Flags().StringVar(&claimRole, "role", "EXECUTOR", "caller role (EXECUTOR, REVIEWER, ORCHESTRATOR, HUMAN)")
	claimCmd.Flags().StringVar(&claimRunID, "run-id", "", "run identity (UUIDv4); generated when omitted, reuse to retry idempotently")
	claimCmd.Flags().StringVar(&claimSprint, "sprint", "", "restrict candidates to this sprint")
	rootCmd.AddCommand(claimCmd)
}
