package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var resolvePRCmd = &cobra.Command{
	Use:   "resolve-pr <issue-number>",
	Short: "Resolve the single pull request linked to an issue",
	Long: `Finds the exactly-one pull request carrying a run marker for the issue.
Unmarked "Refs #N" references and multiple marked candidates both fail
closed with a machine-readable code.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := strconv.Atoi(args[0])
		if err != nil || issue <= 0 {
			return fmt.Errorf("invalid issue number %q", args[0])
		}

		app, err := buildApp()
		if err != nil {
			return err
		}

		linked, err := app.linkage.ResolveLinkedPullRequestForIssue(cmd.Context(), issue)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printResult(linked)
		}
		fmt.Printf("Issue #%d is linked to PR #%d (%s)\n", issue, linked.Number, linked.URL)
		return nil
	},
}

var checkLinksCmd = &cobra.Command{
	Use:   "check-links <issue-number> <project-item-id>",
	Short: "Check that an issue has no linked pull requests",
	Long: `Verifies the zero-linked-PR precondition a fresh claim requires. Exits
nonzero when linkage is ambiguous (autoclose keywords, foreign-item
markers, multiple candidates).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := strconv.Atoi(args[0])
		if err != nil || issue <= 0 {
			return fmt.Errorf("invalid issue number %q", args[0])
		}
		itemID := args[1]

		app, err := buildApp()
		if err != nil {
			return err
		}

		check, err := app.linkage.AssertZeroLinkedPullRequests(cmd.Context(), issue, itemID)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printResult(check)
		}
		if check.Linked {
			fmt.Printf("Issue #%d has linked PR #%d (%s)\n", issue, check.PRNumber, check.Reason)
		} else {
			fmt.Printf("Issue #%d has no linked pull requests\n", issue)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolvePRCmd)
	rootCmd.AddCommand(checkLinksCmd)
}
