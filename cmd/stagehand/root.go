package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagehand-sh/stagehand/internal/claim"
	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/coorderr"
	"github.com/stagehand-sh/stagehand/internal/linkage"
	"github.com/stagehand-sh/stagehand/internal/policy"
	"github.com/stagehand-sh/stagehand/internal/store/github"
)

var (
	configPath  string
	jsonOutput  bool
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Coordination layer for autonomous workers over a shared issue tracker",
	Long: `stagehand serializes autonomous workers over GitHub issues and project
items: claim leases via issue comments, a role-based status transition
policy, and linked-PR invariants that fail closed on ambiguity.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verboseFlag {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./stagehand.yaml, ~/.config/stagehand/stagehand.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
}

// app bundles the wired components a command needs.
type app struct {
	cfg         *config.Config
	coordinator *claim.Coordinator
	linkage     *linkage.Resolver
	policy      *policy.Table
}

// buildApp loads config and wires the store, policy table, linkage
// resolver, and claim coordinator.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.GitHub.Token == "" {
		return nil, fmt.Errorf("no GitHub token configured (set github.token or STAGEHAND_GITHUB_TOKEN)")
	}
	if cfg.GitHub.Owner == "" || cfg.GitHub.Repo == "" {
		return nil, fmt.Errorf("github.owner and github.repo must be configured")
	}

	table := policy.Default()
	if cfg.PolicyPath != "" {
		table, err = policy.Load(cfg.PolicyPath)
		if err != nil {
			return nil, err
		}
	}

	st := github.NewClient(cfg.GitHub.Token, cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.ProjectID)
	res := linkage.NewResolver(st).WithLogger(slog.Default())
	coord := claim.New(st, res, table,
		claim.WithTTL(cfg.TTL()),
		claim.WithLogger(slog.Default()))

	return &app{cfg: cfg, coordinator: coord, linkage: res, policy: table}, nil
}

// printResult writes v as indented JSON when --json is set; callers handle
// the human-readable form themselves and use this only for the JSON path.
func printResult(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitWithError reports a command failure. With --json the error is emitted
// as a JSON object carrying the machine-readable code.
func exitWithError(err error) {
	if jsonOutput {
		out := map[string]string{"error": err.Error()}
		if code := coorderr.CodeOf(err); code != "" {
			out["code"] = string(code)
		}
		json.NewEncoder(os.Stdout).Encode(out)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
