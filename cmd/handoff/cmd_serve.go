package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/handoff/internal/api"
	"github.com/user/handoff/internal/config"
	"github.com/user/handoff/internal/queue"
	"github.com/user/handoff/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the expiration sweeper and the status API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	pidPath := cfg.PIDPath()
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// liveQueue reloads the snapshot before reads when another process (usually
// the CLI) has written it since the daemon last did.
type liveQueue struct {
	*queue.Queue
	app *app
}

func (l liveQueue) refresh() {
	if l.app.snapshot.Changed() {
		_ = l.Queue.Reload()
	}
}

func (l liveQueue) ExpirationCandidates(now time.Time) []types.TransferID {
	l.refresh()
	return l.Queue.ExpirationCandidates(now)
}

func (l liveQueue) handler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.refresh()
		h.ServeHTTP(w, r)
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	cfg := a.cfg

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	live := liveQueue{Queue: a.queue, app: a}

	sw := a.sweeper(live)
	if err := sw.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sw.Stop()

	if cfg.HTTP.Enabled {
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           live.handler(api.NewServer(live, a.metrics.Handler())),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("status server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	slog.Info("handoff started",
		"data_dir", cfg.DataDir,
		"snapshot", cfg.SnapshotPath(),
		"log_level", cfg.LogLevel,
		"expiration_enabled", cfg.Expiration.Enabled,
		"expiration_schedule", cfg.Expiration.Schedule,
		"http_enabled", cfg.HTTP.Enabled,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-gctx.Done():
			// The status server failed.
			return g.Wait()
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				sw.Stop()
				// Clean up PID file before re-exec
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					// Re-write PID file since we failed to re-exec
					if _, writeErr := writePIDFile(cfg); writeErr != nil {
						slog.Error("failed to re-write PID file", "error", writeErr)
					}
					if err := sw.Start(); err != nil {
						slog.Error("failed to restart sweeper", "error", err)
					}
					continue
				}
			}
			// SIGINT or SIGTERM
			slog.Info("shutting down", "signal", sig)
			cancel()
			return g.Wait()
		}
	}
}
