package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/handoff/internal/config"
)

func init() {
	configListCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configCheckCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		cfg := loadConfig()
		// Structured output keeps the sections nested, the way the file
		// stores them.
		nested, err := config.ToMap(cfg)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		if done, err := writeStructured(os.Stdout, format, nested); done {
			return err
		}
		values := config.Flatten(nested)
		for _, k := range config.SortedKeys(values) {
			fmt.Fprintf(os.Stdout, "%s = %v\n", k, values[k])
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set writes one dotted key, for example:

  handoff config set expiration.schedule "*/30 * * * * *"
  handoff config set expiration.enabled true

The value is rejected if the daemon could not start with it. A running daemon
keeps its old settings until "handoff restart".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Make sure the file exists so a first "config set" works.
		cfg := loadConfig()
		if err := config.SetValue(cfgPath, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", args[0], args[1])
		if proc, err := daemonProcess(cfg); err == nil {
			fmt.Fprintf(os.Stdout, "Daemon (PID %d) is running; run \"handoff restart\" to apply.\n", proc.Pid)
		}
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config %s: %w", cfgPath, err)
		}
		fmt.Fprintf(os.Stdout, "Config %s is valid (snapshot %s).\n", cfgPath, cfg.SnapshotPath())
		return nil
	},
}
