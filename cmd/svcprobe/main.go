// cmd/svcprobe/main.go
// svcprobe - concurrent TCP port prober and service fingerprinter

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aspnmy/svcprobe/internal/core"
	"github.com/aspnmy/svcprobe/pkg/logger"
)

// rootFlags are shared by every subcommand
type rootFlags struct {
	configFile string
	dbPath     string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "svcprobe",
		Short: "Concurrent TCP port prober and service fingerprinter",
		Long: `svcprobe connects to every host:port unit of a target set, reads what the
service announces, and falls back to small protocol probes (HTTP, SMB) to name it.

Configuration priority: defaults < config file < SVCPROBE_ env < flags`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "Result database path (default svcprobe.db)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Debug logging and closed results on console")

	rootCmd.AddCommand(newScanCmd(flags))
	rootCmd.AddCommand(newScansCmd(flags))
	rootCmd.AddCommand(newShowCmd(flags))
	rootCmd.AddCommand(newDeleteCmd(flags))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig resolves the layered configuration and initialises the global logger
func loadConfig(flags *rootFlags, overrides map[string]interface{}) (*core.Config, error) {
	if overrides == nil {
		overrides = map[string]interface{}{}
	}
	if flags.verbose {
		overrides["log.level"] = "debug"
		overrides["output.verbose"] = true
	}
	if flags.dbPath != "" {
		overrides["store.path"] = flags.dbPath
	}

	cfg, err := core.Load(flags.configFile, overrides)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
