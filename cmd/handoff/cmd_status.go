package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/handoff/internal/types"
)

func init() {
	rootCmd.AddCommand(statusCmd, agentCmd)
	agentCmd.AddCommand(agentStatusCmd, agentListCmd)

	for _, c := range []*cobra.Command{statusCmd, agentStatusCmd, agentListCmd} {
		c.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue totals by state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		a, err := openApp()
		if err != nil {
			return err
		}
		qs := a.queue.QueueStatus()
		if done, err := writeStructured(os.Stdout, format, qs); done {
			return err
		}
		return printQueueStatus(os.Stdout, qs)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect agent activity",
}

var agentStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show one agent's pending work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		a, err := openApp()
		if err != nil {
			return err
		}
		st, ok := a.queue.AgentStatus(types.AgentID(args[0]))
		if !ok {
			return fmt.Errorf("no activity recorded for agent %s", args[0])
		}
		if done, err := writeStructured(os.Stdout, format, st); done {
			return err
		}
		return printAgentTable(os.Stdout, []types.AgentStatus{st})
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every agent seen, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		a, err := openApp()
		if err != nil {
			return err
		}
		agents := a.queue.Agents()
		if done, err := writeStructured(os.Stdout, format, agents); done {
			return err
		}
		return printAgentTable(os.Stdout, agents)
	},
}
