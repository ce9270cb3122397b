package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/handoff/internal/queue"
	"github.com/user/handoff/internal/types"
)

func init() {
	rootCmd.AddCommand(transferCmd)
	transferCmd.AddCommand(
		transferCreateCmd,
		transferSendCmd,
		transferReceiveCmd,
		transferConsumeCmd,
		transferFailCmd,
		transferShowCmd,
		transferListCmd,
	)

	transferCreateCmd.Flags().String("from", "", "sending agent (required)")
	transferCreateCmd.Flags().String("to", "", "receiving agent (required)")
	transferCreateCmd.Flags().String("artifact", "", "knowledge artifact reference (required)")
	transferCreateCmd.Flags().String("title", "", "short title")
	transferCreateCmd.Flags().String("description", "", "longer description")
	transferCreateCmd.Flags().StringSlice("type", nil, "knowledge type tag (repeatable)")
	transferCreateCmd.Flags().String("priority", string(types.PriorityNormal), "low, normal, high or urgent")
	transferCreateCmd.Flags().Duration("expires-in", 0, "expire the transfer after this long (0 = never)")
	_ = transferCreateCmd.MarkFlagRequired("from")
	_ = transferCreateCmd.MarkFlagRequired("to")
	_ = transferCreateCmd.MarkFlagRequired("artifact")

	for _, c := range []*cobra.Command{transferSendCmd, transferReceiveCmd, transferConsumeCmd, transferFailCmd} {
		c.Flags().String("agent", "", "acting agent (required)")
		_ = c.MarkFlagRequired("agent")
	}
	transferConsumeCmd.Flags().String("details", "", "JSON object recorded with the consume")
	transferFailCmd.Flags().String("reason", "", "why the transfer failed")

	transferShowCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	transferListCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	transferListCmd.Flags().String("state", "", "only transfers in this state")
	transferListCmd.Flags().String("agent", "", "only transfers involving this agent")
	transferListCmd.Flags().String("role", string(types.RoleBoth), "with --agent: sender, receiver or both")
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Create and advance knowledge transfers",
}

var transferCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pending transfer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		artifact, _ := cmd.Flags().GetString("artifact")
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		tags, _ := cmd.Flags().GetStringSlice("type")
		priority, _ := cmd.Flags().GetString("priority")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")

		a, err := openApp()
		if err != nil {
			return err
		}
		id, err := a.queue.Create(types.AgentID(from), types.AgentID(to), artifact, queue.CreateOptions{
			Title:         title,
			Description:   description,
			KnowledgeType: tags,
			Priority:      types.Priority(priority),
			ExpiresIn:     expiresIn,
		})
		if id == "" {
			return err
		}
		fmt.Fprintln(os.Stdout, id)
		return err
	},
}

var transferSendCmd = &cobra.Command{
	Use:   "send <id>",
	Short: "Mark a transfer as sent (sender only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		a, err := openApp()
		if err != nil {
			return err
		}
		res, err := a.queue.MarkAsSent(types.TransferID(args[0]), types.AgentID(agent))
		return reportResult(os.Stdout, res, err)
	},
}

var transferReceiveCmd = &cobra.Command{
	Use:   "receive <id>",
	Short: "Mark a transfer as received (receiver only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		a, err := openApp()
		if err != nil {
			return err
		}
		res, err := a.queue.MarkAsReceived(types.TransferID(args[0]), types.AgentID(agent))
		return reportResult(os.Stdout, res, err)
	},
}

var transferConsumeCmd = &cobra.Command{
	Use:   "consume <id>",
	Short: "Mark a transfer as consumed (receiver only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		raw, _ := cmd.Flags().GetString("details")

		var details map[string]any
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &details); err != nil {
				return fmt.Errorf("--details must be a JSON object: %w", err)
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		res, err := a.queue.MarkAsConsumed(types.TransferID(args[0]), types.AgentID(agent), details)
		return reportResult(os.Stdout, res, err)
	},
}

var transferFailCmd = &cobra.Command{
	Use:   "fail <id>",
	Short: "Mark a transfer as failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		reason, _ := cmd.Flags().GetString("reason")
		a, err := openApp()
		if err != nil {
			return err
		}
		res, err := a.queue.MarkAsFailed(types.TransferID(args[0]), types.AgentID(agent), reason)
		return reportResult(os.Stdout, res, err)
	},
}

var transferShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one transfer with its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		a, err := openApp()
		if err != nil {
			return err
		}
		rec, ok := a.queue.Get(types.TransferID(args[0]))
		if !ok {
			return fmt.Errorf("transfer %s not found", args[0])
		}
		if done, err := writeStructured(os.Stdout, format, rec); done {
			return err
		}
		return printTransfer(os.Stdout, rec)
	},
}

var transferListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transfers, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		state, _ := cmd.Flags().GetString("state")
		agent, _ := cmd.Flags().GetString("agent")
		role, _ := cmd.Flags().GetString("role")

		if state != "" && !types.State(state).Valid() {
			return fmt.Errorf("unknown state %q", state)
		}
		if !types.Role(role).Valid() {
			return fmt.Errorf("unknown role %q", role)
		}

		a, err := openApp()
		if err != nil {
			return err
		}

		var recs []*types.TransferRecord
		switch {
		case agent != "":
			for _, rec := range a.queue.TransfersForAgent(types.AgentID(agent), types.Role(role)) {
				if state == "" || rec.State == types.State(state) {
					recs = append(recs, rec)
				}
			}
		case state != "":
			recs = a.queue.TransfersByState(types.State(state))
		default:
			recs = a.queue.AllTransfers()
		}
		if recs == nil {
			recs = []*types.TransferRecord{}
		}

		if done, err := writeStructured(os.Stdout, format, recs); done {
			return err
		}
		return printTransferTable(os.Stdout, recs)
	},
}
