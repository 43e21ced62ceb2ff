// cmd/svcprobe/scan.go
// scan command: flags, graceful shutdown, orchestrator run

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aspnmy/svcprobe/internal/app"
	"github.com/aspnmy/svcprobe/internal/scanner"
	"github.com/aspnmy/svcprobe/pkg/logger"
)

func newScanCmd(flags *rootFlags) *cobra.Command {
	var req app.Request

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Probe every host:port unit of a target set",
		Example: `  svcprobe scan -t 192.168.1.1
  svcprobe scan -t 10.0.0.0/24 -p 22,80,443,8000-8100
  svcprobe scan -t 10.0.0.1-20 --deep -o console,csv
  svcprobe scan --targets-file hosts.txt --full --rate 2000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Targets == "" && req.TargetsFile == "" {
				return errors.New("no targets: use -t or --targets-file")
			}

			cfg, err := loadConfig(flags, scanOverrides(cmd))
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scanApp, err := app.NewFromConfig(cfg, cmd.OutOrStdout(), os.Stderr)
			if err != nil {
				return err
			}
			defer func() {
				if err := scanApp.Close(); err != nil {
					logger.Error("Failed to close outputs", logger.Err(err))
				}
			}()

			summary, err := scanApp.Run(ctx, req)
			switch {
			case errors.Is(err, scanner.ErrScanInterrupted):
				logger.Warn("Scan interrupted, partial results kept",
					logger.String("scan_id", summary.ScanID),
					logger.Int("probed", len(summary.Results)),
					logger.Int("units", summary.Units),
				)
			case err != nil:
				return err
			}

			if summary.SinkErrors != nil {
				return fmt.Errorf("some outputs failed: %w", summary.SinkErrors)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.Targets, "targets", "t", "", "Targets: IPv4, CIDR or last-octet range, comma-separated")
	f.StringVar(&req.TargetsFile, "targets-file", "", "File with one target token per line")
	f.StringVarP(&req.Ports, "ports", "p", "", "Ports, e.g. 22,80,8000-8100 (default: common service ports)")
	f.BoolVar(&req.Full, "full", false, "Scan all ports 1-65535")

	f.Bool("deep", false, "Send an SMB negotiate when nothing else identifies a port")
	f.IntP("concurrency", "c", 1000, "Maximum units in flight")
	f.Int("rate", 0, "Maximum connects per second (0 = unlimited)")
	f.Bool("adaptive", false, "Lower the rate while many connects time out")
	f.String("engine", "native", "Scanner engine ("+strings.Join(scanner.Engines(), ", ")+")")
	f.Duration("connect-timeout", 0, "Connect timeout (default 3s)")
	f.Duration("read-timeout", 0, "Passive banner read timeout (default 1s)")
	f.Duration("probe-timeout", 0, "Active probe timeout (default 2s)")
	f.StringSliceP("output", "o", nil, "Output formats: console, table, csv, jsonl")
	f.String("output-dir", "", "Directory for csv and jsonl files")
	f.Bool("no-store", false, "Do not record the scan in the result database")
	f.Bool("progress", false, "Show a progress line on stderr")

	return cmd
}

// scanOverrides maps explicitly set flags onto config keys; untouched flags
// leave lower layers in effect
func scanOverrides(cmd *cobra.Command) map[string]interface{} {
	f := cmd.Flags()
	overrides := map[string]interface{}{}

	if f.Changed("deep") {
		v, _ := f.GetBool("deep")
		overrides["scanner.deep"] = v
	}
	if f.Changed("concurrency") {
		v, _ := f.GetInt("concurrency")
		overrides["scanner.concurrency"] = v
	}
	if f.Changed("rate") {
		v, _ := f.GetInt("rate")
		overrides["scanner.rate"] = v
	}
	if f.Changed("adaptive") {
		v, _ := f.GetBool("adaptive")
		overrides["scanner.adaptive"] = v
	}
	if f.Changed("engine") {
		v, _ := f.GetString("engine")
		overrides["scanner.engine"] = v
	}
	for flag, key := range map[string]string{
		"connect-timeout": "scanner.connect_timeout",
		"read-timeout":    "scanner.read_timeout",
		"probe-timeout":   "scanner.probe_timeout",
	} {
		if f.Changed(flag) {
			v, _ := f.GetDuration(flag)
			overrides[key] = v
		}
	}
	if f.Changed("output") {
		v, _ := f.GetStringSlice("output")
		overrides["output.formats"] = v
	}
	if f.Changed("output-dir") {
		v, _ := f.GetString("output-dir")
		overrides["output.directory"] = v
	}
	if f.Changed("no-store") {
		v, _ := f.GetBool("no-store")
		overrides["store.enabled"] = !v
	}
	if f.Changed("progress") {
		v, _ := f.GetBool("progress")
		overrides["output.progress"] = v
	}
	return overrides
}
