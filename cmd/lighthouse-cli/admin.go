package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lighthouse-coord/lighthouse/internal/adminsock"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show expert registry status over the admin socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := callAdmin(adminsock.Request{Cmd: "status"})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp.Experts)
		}
		if len(resp.Experts) == 0 {
			fmt.Println("no registered experts")
			return nil
		}
		for _, e := range resp.Experts {
			fmt.Printf("%s\t%s\n", e.ExpertID, e.Status)
		}
		return nil
	},
}

var revokeSessionCmd = &cobra.Command{
	Use:   "revoke-session <token> <reason>",
	Short: "Revoke a single session by its token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := callAdmin(adminsock.Request{Cmd: "revoke-session", Token: args[0], Reason: args[1]})
		if err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var revokeAgentCmd = &cobra.Command{
	Use:   "revoke-agent <agent_id> <reason>",
	Short: "Revoke every active session belonging to an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := callAdmin(adminsock.Request{Cmd: "revoke-agent", AgentID: args[0], Reason: args[1]})
		if err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var quarantineExpertCmd = &cobra.Command{
	Use:   "quarantine-expert <expert_id> <reason>",
	Short: "Quarantine an expert so it is not selected for new delegations",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := callAdmin(adminsock.Request{Cmd: "quarantine-expert", ExpertID: args[0], Reason: args[1]})
		if err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, revokeSessionCmd, revokeAgentCmd, quarantineExpertCmd)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
