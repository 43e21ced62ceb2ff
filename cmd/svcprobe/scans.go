// cmd/svcprobe/scans.go
// Commands over recorded scans: list, show, delete

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/aspnmy/svcprobe/internal/models"
	"github.com/aspnmy/svcprobe/internal/output"
	"github.com/aspnmy/svcprobe/internal/store"
)

// openStore loads the config for its store path; the store section's
// enabled flag only controls recording during scans
func openStore(flags *rootFlags) (*store.Store, error) {
	cfg, err := loadConfig(flags, nil)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Path)
}

func newScansCmd(flags *rootFlags) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "scans",
		Short: "List recorded scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			scans, err := s.ListScans(store.ScanStatus(status))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(scans) == 0 {
				fmt.Fprintln(w, "No scans recorded")
				return nil
			}
			fmt.Fprintln(w, renderScans(scans))
			fmt.Fprintln(w)
			fmt.Fprintln(w, "To show a scan: svcprobe show <scan_id>")
			fmt.Fprintln(w, "To delete a scan: svcprobe delete <scan_id>")
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only scans with this status (running, completed, interrupted, failed)")
	return cmd
}

func newShowCmd(flags *rootFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "show <scan_id>",
		Short: "Print the results of a recorded scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			info, err := s.GetScan(args[0])
			if err != nil {
				return err
			}
			results, err := s.GetResults(info.ScanID)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Scan %s (%s) targets=%s created=%s\n",
				info.ScanID, info.Status, info.Targets, info.CreatedAt.Format(time.DateTime))
			fmt.Fprintf(w, "Units: %d recorded / %d planned, open: %d\n\n", len(results), info.TotalUnits, info.OpenCount)

			rows := resultRows(results, all)
			if len(rows) == 0 {
				fmt.Fprintln(w, "No open ports")
				return nil
			}
			fmt.Fprintln(w, output.Render(rows, true))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include closed units")
	return cmd
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <scan_id>",
		Short: "Delete a recorded scan and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteScan(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scan %s deleted\n", args[0])
			return nil
		},
	}
}

func resultRows(results []models.ProbeResult, all bool) [][]string {
	var rows [][]string
	for _, r := range results {
		if !r.Open() && !all {
			continue
		}
		rows = append(rows, []string{r.IP.String(), strconv.Itoa(r.Port), string(r.Status), r.Banner})
	}
	return rows
}

func renderScans(scans []store.ScanInfo) string {
	rows := make([][]string, 0, len(scans))
	for _, s := range scans {
		rows = append(rows, []string{
			s.ScanID,
			string(s.Status),
			s.Targets,
			strconv.FormatInt(s.TotalUnits, 10),
			strconv.FormatInt(s.OpenCount, 10),
			s.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SCAN ID", "STATUS", "TARGETS", "UNITS", "OPEN", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Render()
}
