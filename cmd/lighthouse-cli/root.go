package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	adminSocket string
	dataDir     string
	authSecret  string
	asAgentID   string
	asRole      string
	jsonOutput  bool
)

// rootCmd is the base command, following the teacher pack's
// tim-coutinho-agentops "ao" root-command shape: persistent flags
// shared by every subcommand, no business logic of its own.
var rootCmd = &cobra.Command{
	Use:   "lighthouse-cli",
	Short: "Operator CLI for the Lighthouse coordination core",
	Long: `lighthouse-cli is the operator-facing adapter for the Lighthouse
coordination core. It issues the calls described in spec.md §6 — either
over the local admin socket (session/expert administration) or directly
against the data directory for read-only queries and shadow search.

It performs no authorization or storage logic of its own: every command
delegates to the same core packages the daemon (lighthoused) runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits 1 on error, matching the
// teacher CLI's Execute().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lighthouse-cli: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminSocket, "admin-socket", "/run/lighthouse/admin.sock",
		"Path to the admin Unix domain socket (admin.* commands)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "/var/lib/lighthouse",
		"Path to the data directory (query/search commands)")
	rootCmd.PersistentFlags().StringVar(&authSecret, "auth-secret", os.Getenv("LIGHTHOUSE_AUTH_SECRET"),
		"HMAC chain secret, required to open the event log for query/search (env: LIGHTHOUSE_AUTH_SECRET)")
	rootCmd.PersistentFlags().StringVar(&asAgentID, "as-agent-id", "",
		"agent_id to authorize query/search calls as")
	rootCmd.PersistentFlags().StringVar(&asRole, "as-role", "agent",
		"role to authorize query/search calls as (guest|agent|expert|system_admin)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")
}
