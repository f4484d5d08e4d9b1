package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/store"
)

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "Inspect scan history",
	Long:  "Commands for listing, viewing and deleting coverage scans.",
}

// -- scans list --

var scansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scans",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		scans, err := st.ListScans(ctx, store.ScanFilter{
			Status: model.ScanStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "scans list")
		}

		if len(scans) == 0 {
			fmt.Fprintln(os.Stderr, "No scans found.")
			return nil
		}

		formatScansList(os.Stdout, scans)
		return nil
	},
}

// -- scans show --

var scansShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show full details of a scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scan, err := st.GetScan(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "scans show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(scan)
	},
}

// -- scans delete --

var scansDeleteCmd = &cobra.Command{
	Use:   "delete <scan-id>",
	Short: "Delete a scan and its voxels and samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteScan(ctx, args[0]); err != nil {
			return eris.Wrap(err, "scans delete")
		}
		fmt.Printf("Deleted scan %s\n", args[0])
		return nil
	},
}

func init() {
	scansListCmd.Flags().String("status", "", "filter by status (active, complete, abandoned)")
	scansListCmd.Flags().Int("limit", 50, "max number of scans to display")

	scansCmd.AddCommand(scansListCmd)
	scansCmd.AddCommand(scansShowCmd)
	scansCmd.AddCommand(scansDeleteCmd)
	rootCmd.AddCommand(scansCmd)
}

// formatScansList writes a tabular list of scans to w.
func formatScansList(out io.Writer, scans []model.Scan) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCOVERAGE\tVOXELS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t------\t-------")

	for _, s := range scans {
		coverage := "-"
		voxels := "-"
		if s.Stats != nil {
			coverage = fmt.Sprintf("%.1f%%", s.Stats.CompletionPercent)
			voxels = fmt.Sprintf("%d/%d", s.Stats.PaintedVoxels, s.Stats.ExpectedVoxels)
		}

		name := s.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(s.ID),
			name,
			s.Status,
			coverage,
			voxels,
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
