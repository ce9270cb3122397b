package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/handoff/internal/sweeper"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue transfers once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		sw := a.sweeper(a.queue)
		if !sw.Enabled() {
			fmt.Fprintln(os.Stdout, "Expiration is disabled (set expiration.enabled or HANDOFF_EXPIRATION_ENABLED).")
			return nil
		}
		rep := sw.RunOnce()
		fmt.Fprintf(os.Stdout, "Expired %d of %d overdue transfers.\n", rep.Expired, rep.Candidates)
		if rep.PersistErrors > 0 {
			return fmt.Errorf("%d snapshot writes failed", rep.PersistErrors)
		}
		return nil
	},
}

func (a *app) sweeper(q sweeper.Expirer) *sweeper.Sweeper {
	return sweeper.New(q,
		sweeper.Config{Enabled: a.cfg.Expiration.Enabled, Schedule: a.cfg.Expiration.Schedule},
		sweeper.WithLogger(slog.Default()),
		sweeper.WithMetrics(a.metrics),
	)
}
