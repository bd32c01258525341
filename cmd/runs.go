package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/monitoring"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
	Long:  "Commands for listing, viewing, and summarizing ingestion runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		scheme, _ := cmd.Flags().GetString("scheme")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, model.RunFilter{
			Scheme: scheme,
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

// runDetail is a run with its page reports.
type runDetail struct {
	*model.Run
	Pages []model.PageReport `json:"pages"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run, its final record and its page reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		pages, err := st.ListPageReports(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show: page reports")
		}
		if pages == nil {
			pages = []model.PageReport{}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{Run: run, Pages: pages})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since.Hours())
		if hours < 1 {
			return eris.Errorf("runs stats: --since must be at least 1h, got %s", since)
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().String("scheme", "", "filter by scheme")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCHEME\tMODEL\tSTATUS\tMERGED/SKIPPED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t------\t--------------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		pages := "-"
		if r.Summary != nil {
			pages = fmt.Sprintf("%d/%d", r.Summary.Merged, r.Summary.Skipped)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncate(r.Scheme, 30),
			r.Model,
			r.Status,
			pages,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d (%.1f%%)\n", s.RunsFailed, s.RunFailRate*100)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Pages:\t%d\n", s.PagesTotal)
	_, _ = fmt.Fprintf(w, "  Merged:\t%d\n", s.PagesMerged)
	_, _ = fmt.Fprintf(w, "  Skipped:\t%d (%.1f%%)\n", s.PagesSkipped, s.PageSkipRate*100)
	_, _ = fmt.Fprintf(w, "  Parse failures:\t%d\n", s.ParseFailures)
	_, _ = fmt.Fprintf(w, "  Validation failures:\t%d\n", s.ValidationFailures)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.CostUSD)
	if s.AvgTokensPerRun > 0 {
		_, _ = fmt.Fprintf(w, "Avg tokens/run:\t%d\n", s.AvgTokensPerRun)
	}
	if len(s.SchemesWithErrors) > 0 {
		_, _ = fmt.Fprintf(w, "Schemes with errors:\t%v\n", s.SchemesWithErrors)
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
