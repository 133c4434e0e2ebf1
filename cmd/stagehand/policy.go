package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the status transition policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active transition table",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Only the config file is needed here; no tracker connection.
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		table := policy.Default()
		if cfg.PolicyPath != "" {
			table, err = policy.Load(cfg.PolicyPath)
			if err != nil {
				return err
			}
		}

		rules := table.Rules()
		keys := make([]policy.Transition, 0, len(rules))
		for tr := range rules {
			keys = append(keys, tr)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Role != keys[j].Role {
				return keys[i].Role < keys[j].Role
			}
			if keys[i].From != keys[j].From {
				return keys[i].From < keys[j].From
			}
			return keys[i].To < keys[j].To
		})

		if jsonOutput {
			type rule struct {
				Role       string `json:"role"`
				From       string `json:"from"`
				To         string `json:"to"`
				Allowed    bool   `json:"allowed"`
				Automation bool   `json:"automation"`
			}
			out := make([]rule, 0, len(keys))
			for _, tr := range keys {
				d := rules[tr]
				out = append(out, rule{
					Role:       string(tr.Role),
					From:       string(tr.From),
					To:         string(tr.To),
					Allowed:    d.Allowed,
					Automation: d.AutomationAllowed,
				})
			}
			return printResult(out)
		}

		for _, tr := range keys {
			d := rules[tr]
			note := ""
			if d.Allowed && !d.AutomationAllowed {
				note = "  (human only)"
			}
			fmt.Printf("%-13s %-12s -> %-12s allowed=%v%s\n", tr.Role, tr.From, tr.To, d.Allowed, note)
		}
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	rootCmd.AddCommand(policyCmd)
}
