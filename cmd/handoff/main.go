package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/handoff/internal/config"
	"github.com/user/handoff/internal/metrics"
	"github.com/user/handoff/internal/probe"
	"github.com/user/handoff/internal/queue"
	"github.com/user/handoff/internal/state"
	"github.com/user/handoff/internal/transfer"
	"github.com/user/handoff/internal/types"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "handoff",
	Short:         "Coordinate knowledge transfers between agents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	level, err := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	if err != nil {
		slog.Warn("unknown log level, using info", "error", err)
	}
}

// app is the wiring shared by every command that touches the queue.
type app struct {
	cfg      *config.Config
	snapshot *state.SnapshotFile
	store    *transfer.Store
	queue    *queue.Queue
	metrics  *metrics.Collector
}

func openApp() (*app, error) {
	cfg := loadConfig()
	setupLogging(cfg)

	log := slog.Default()
	collector := metrics.NewCollector("handoff")
	snapshot := state.NewSnapshotFile(cfg.SnapshotPath(), log)
	store, err := transfer.Open(snapshot,
		transfer.WithSizeProbe(types.SizeProbeFunc(probe.Rooted(cfg.ArtifactRoot))),
		transfer.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		snapshot: snapshot,
		store:    store,
		queue:    queue.New(store, queue.WithLogger(log), queue.WithMetrics(collector)),
		metrics:  collector,
	}, nil
}
