package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/user/handoff/internal/transfer"
	"github.com/user/handoff/internal/types"
)

var stateColors = map[types.State]*color.Color{
	types.StatePending:  color.New(color.FgYellow),
	types.StateSent:     color.New(color.FgCyan),
	types.StateReceived: color.New(color.FgBlue),
	types.StateConsumed: color.New(color.FgGreen),
	types.StateFailed:   color.New(color.FgRed),
	types.StateExpired:  color.New(color.FgHiBlack),
}

func coloredState(s types.State) string {
	if c, ok := stateColors[s]; ok {
		return c.Sprint(s)
	}
	return string(s)
}

// writeStructured writes v as JSON or YAML. It reports false for any other
// format so the caller can fall back to text.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case "", "text":
		return false, nil
	}
	return true, fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func printTransfer(w io.Writer, rec *types.TransferRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", rec.TransferID)
	fmt.Fprintf(tw, "State:\t%s\n", coloredState(rec.State))
	fmt.Fprintf(tw, "From:\t%s\n", rec.FromAgentID)
	fmt.Fprintf(tw, "To:\t%s\n", rec.ToAgentID)
	fmt.Fprintf(tw, "Artifact:\t%s\n", rec.KnowledgeArtifactRef)
	fmt.Fprintf(tw, "Priority:\t%s\n", rec.Priority)
	if rec.Metadata.Title != "" {
		fmt.Fprintf(tw, "Title:\t%s\n", rec.Metadata.Title)
	}
	if rec.Metadata.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", rec.Metadata.Description)
	}
	if len(rec.Metadata.KnowledgeType) > 0 {
		fmt.Fprintf(tw, "Types:\t%s\n", strings.Join(rec.Metadata.KnowledgeType, ", "))
	}
	fmt.Fprintf(tw, "Size:\t%d bytes\n", rec.Metadata.EstimatedSize)
	fmt.Fprintf(tw, "Created:\t%s\n", formatTime(rec.Metadata.CreatedAt))
	fmt.Fprintf(tw, "Updated:\t%s\n", formatTime(rec.Metadata.UpdatedAt))
	if rec.Metadata.ExpiresAt != nil {
		fmt.Fprintf(tw, "Expires:\t%s\n", formatTime(*rec.Metadata.ExpiresAt))
	}
	p := rec.Progress
	fmt.Fprintf(tw, "Progress:\tsent=%v received=%v consumed=%v validated=%v\n", p.Sent, p.Received, p.Consumed, p.Validated)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nHistory:")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, h := range rec.History {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", formatTime(h.Timestamp), coloredState(h.State), h.ActorAgentID, h.Message)
		if len(h.Details) > 0 {
			data, _ := json.Marshal(h.Details)
			fmt.Fprintf(tw, "  \t\t\tdetails: %s\n", data)
		}
	}
	return tw.Flush()
}

func printTransferTable(w io.Writer, recs []*types.TransferRecord) error {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No transfers.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tFROM\tTO\tPRIORITY\tTITLE\tUPDATED")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.TransferID,
			coloredState(rec.State),
			rec.FromAgentID,
			rec.ToAgentID,
			rec.Priority,
			rec.Metadata.Title,
			formatTime(rec.Metadata.UpdatedAt),
		)
	}
	return tw.Flush()
}

func printAgentTable(w io.Writer, agents []types.AgentStatus) error {
	if len(agents) == 0 {
		fmt.Fprintln(w, "No agents have been seen.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tONLINE\tLAST SEEN\tPENDING RECEIVES\tPENDING CONSUMES\tTOTAL")
	for _, st := range agents {
		fmt.Fprintf(tw, "%s\t%v\t%s\t%d\t%d\t%d\n",
			st.AgentID,
			st.IsOnline,
			formatTime(st.LastSeen),
			st.PendingReceives,
			st.PendingConsumes,
			st.TotalTransfers,
		)
	}
	return tw.Flush()
}

func printQueueStatus(w io.Writer, qs types.QueueStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		n     int
	}{
		{"Total", qs.TotalTransfers},
		{"Pending", qs.PendingTransfers},
		{"Active", qs.ActiveTransfers},
		{"Completed", qs.CompletedTransfers},
		{"Failed", qs.FailedTransfers},
		{"Expired", qs.ExpiredTransfers},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%d\n", r.label, r.n)
	}
	return tw.Flush()
}

// reportResult prints the outcome of a transition and turns a rejection into
// an error so the command exits non-zero.
func reportResult(w io.Writer, res transfer.Result, err error) error {
	if !res.Applied {
		return res.Err()
	}
	fmt.Fprintf(w, "Transfer %s is now %s.\n", res.Transfer.TransferID, coloredState(res.Transfer.State))
	return err
}
