package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/evidence"
	"github.com/sells-group/certstate-cli/internal/source"
)

var (
	tokensPages string
	tokensState string
	tokensJSON  bool
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Report prompt sizes for a page set without calling a model",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyIngestFlags(cmd, &ingestOpts)

		pages, err := source.LoadPages(tokensPages)
		if err != nil {
			return err
		}
		initial, err := loadState(tokensState)
		if err != nil {
			return err
		}
		if initial == nil {
			initial = certstate.New()
		}
		sel, err := initSelector()
		if err != nil {
			return err
		}
		rules, err := loadRules(cfg.Ingest.SystemRulesFile)
		if err != nil {
			return err
		}

		rep, err := sel.Report(rules, initial, pages, cfg.Ingest.ContextTokens, cfg.Ingest.ReserveTokens)
		if err != nil {
			return err
		}
		if tokensJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		formatTokenReport(os.Stdout, rep)
		return nil
	},
}

func init() {
	f := tokensCmd.Flags()
	f.StringVar(&tokensPages, "pages", "", "page set: JSON array file or directory of .md/.html files")
	f.StringVar(&tokensState, "state", "", "initial record JSON file (optional)")
	f.BoolVar(&tokensJSON, "json", false, "print the report as JSON")
	f.IntVar(&ingestOpts.contextTokens, "context-tokens", 0, "prompt plus reply budget (default from config)")
	f.IntVar(&ingestOpts.reserveTokens, "reserve-tokens", 0, "tokens held back for the reply (default from config)")
	_ = tokensCmd.MarkFlagRequired("pages")
	rootCmd.AddCommand(tokensCmd)
}

// formatTokenReport writes a per-page table and totals to w.
func formatTokenReport(out io.Writer, rep *evidence.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tURL\tRAW\tPROMPT\tEMPTY\tMODE\tTRIMMED")
	for _, r := range rep.Pages {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%t\n",
			r.Index, truncate(r.URL, 60), r.RawTokens, r.PromptTokens, r.EmptyFields, r.EvidenceMode, r.Trimmed)
	}
	_ = w.Flush()

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "\nModel:\t%s\n", rep.Model)
	_, _ = fmt.Fprintf(w, "Budget:\t%d\n", rep.BudgetTokens)
	_, _ = fmt.Fprintf(w, "Total raw tokens:\t%d\n", rep.TotalRawTokens)
	_, _ = fmt.Fprintf(w, "Total prompt tokens:\t%d\n", rep.TotalPromptTokens)
	_, _ = fmt.Fprintf(w, "Avg raw tokens:\t%.1f\n", rep.AvgRawTokens)
	_, _ = fmt.Fprintf(w, "Avg prompt tokens:\t%.1f\n", rep.AvgPromptTokens)
	_ = w.Flush()
}

// truncate shortens s to n runes with a trailing ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
