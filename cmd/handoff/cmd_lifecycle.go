package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/handoff/internal/config"
)

var errNoDaemon = errors.New("no running daemon")

func init() {
	stopCmd.Flags().Duration("wait", 0, "wait up to this long for the daemon to exit")
	rootCmd.AddCommand(stopCmd, restartCmd)
}

// daemonProcess finds the serve process recorded in the PID file. A PID
// file left behind by a crashed daemon reports errNoDaemon.
func daemonProcess(cfg *config.Config) (*os.Process, error) {
	data, err := os.ReadFile(cfg.PIDPath())
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w (PID file not found)", errNoDaemon)
	}
	if err != nil {
		return nil, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid PID file content: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if !alive(proc) {
		return nil, fmt.Errorf("%w (process %d not found)", errNoDaemon, pid)
	}
	return proc, nil
}

func alive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

func signalDaemon(sig syscall.Signal) (*os.Process, error) {
	proc, err := daemonProcess(loadConfig())
	if err != nil {
		return nil, err
	}
	if err := proc.Signal(sig); err != nil {
		return nil, fmt.Errorf("send %s: %w", sig, err)
	}
	return proc, nil
}

// waitExit polls until proc is gone or timeout passes.
func waitExit(proc *os.Process, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for alive(proc) {
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon (PID %d) still running after %s", proc.Pid, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running handoff daemon",
	Long: `Stop sends SIGTERM to the daemon, which shuts down its HTTP listener
and waits for a running expiration sweep before exiting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		proc, err := signalDaemon(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGTERM to daemon (PID %d).\n", proc.Pid)
		if wait <= 0 {
			return nil
		}
		if err := waitExit(proc, wait); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Daemon stopped.")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running handoff daemon",
	Long: `Restart sends SIGHUP. The daemon re-executes itself, rereading the config
file and reloading the transfer snapshot.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, err := signalDaemon(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGHUP to daemon (PID %d) for restart.\n", proc.Pid)
		return nil
	},
}
