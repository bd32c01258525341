package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/config"
	"github.com/sells-group/certstate-cli/internal/ingest"
	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/source"
)

type ingestFlags struct {
	pages           string
	state           string
	scheme          string
	resume          bool
	out             string
	report          string
	envelope        bool
	preferOverwrite bool
	contextTokens   int
	reserveTokens   int
	maxRetries      int
}

var ingestOpts ingestFlags

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fold a page set into a certification record",
	Long:  "Processes each page in order: builds a sparse prompt for the record's empty fields, calls the model, validates the reply and merges it. Pages that cannot be parsed or validated are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyIngestFlags(cmd, &ingestOpts)

		pages, err := source.LoadPages(ingestOpts.pages)
		if err != nil {
			return err
		}
		initial, err := loadState(ingestOpts.state)
		if err != nil {
			return err
		}

		env, err := initIngestEnv(ctx, config.ModeIngest)
		if err != nil {
			return err
		}
		defer env.Close()

		run, res, err := env.Runner.Run(ctx, ingest.Job{
			Scheme:  ingestOpts.scheme,
			Pages:   pages,
			Initial: initial,
			Rules:   env.Rules,
			Resume:  ingestOpts.resume,
		})
		if err != nil {
			return err
		}

		if ingestOpts.report != "" {
			if err := writeJSONFile(ingestOpts.report, runReport{RunID: run.ID, Scheme: run.Scheme, Summary: res.Summary, Pages: res.Pages}); err != nil {
				return err
			}
		}

		out, err := openOutput(ingestOpts.out)
		if err != nil {
			return err
		}
		defer out.Close() //nolint:errcheck
		if err := writeState(out, res.State, ingestOpts.envelope); err != nil {
			return err
		}

		zap.L().Info("ingest finished",
			zap.String("run_id", run.ID),
			zap.Int("merged", res.Summary.Merged),
			zap.Int("skipped", res.Summary.Skipped),
			zap.Float64("cost_usd", res.Summary.Usage.Cost),
		)
		return nil
	},
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestOpts.pages, "pages", "", "page set: JSON array file or directory of .md/.html files")
	f.StringVar(&ingestOpts.state, "state", "", "initial record JSON file (optional)")
	f.StringVar(&ingestOpts.scheme, "scheme", "default", "scheme name used for run history and --resume")
	f.BoolVar(&ingestOpts.resume, "resume", false, "start from the latest stored record of --scheme")
	f.StringVar(&ingestOpts.out, "out", "", "output file for the final record (default stdout)")
	f.StringVar(&ingestOpts.report, "report", "", "write per-page diagnostics JSON to this file")
	f.BoolVar(&ingestOpts.envelope, "envelope", false, "wrap the output as {\"certification_state\": ...}")
	f.BoolVar(&ingestOpts.preferOverwrite, "prefer-overwrite", false, "let later pages overwrite filled scalar fields")
	f.IntVar(&ingestOpts.contextTokens, "context-tokens", 0, "prompt plus reply budget (default from config)")
	f.IntVar(&ingestOpts.reserveTokens, "reserve-tokens", 0, "tokens held back for the reply (default from config)")
	f.IntVar(&ingestOpts.maxRetries, "max-retries", 0, "corrective retries per page (default from config)")
	_ = ingestCmd.MarkFlagRequired("pages")
	rootCmd.AddCommand(ingestCmd)
}

// applyIngestFlags copies explicitly set flags over the loaded config.
func applyIngestFlags(cmd *cobra.Command, f *ingestFlags) {
	flags := cmd.Flags()
	if flags.Changed("prefer-overwrite") {
		cfg.Ingest.PreferOverwrite = f.preferOverwrite
	}
	if flags.Changed("context-tokens") {
		cfg.Ingest.ContextTokens = f.contextTokens
	}
	if flags.Changed("reserve-tokens") {
		cfg.Ingest.ReserveTokens = f.reserveTokens
	}
	if flags.Changed("max-retries") {
		cfg.Ingest.MaxRetries = f.maxRetries
	}
}

// runReport is the --report document.
type runReport struct {
	RunID   string             `json:"run_id,omitempty"`
	Scheme  string             `json:"scheme"`
	Summary model.RunSummary   `json:"summary"`
	Pages   []model.PageReport `json:"pages"`
}

// loadState reads an initial record. An empty path yields nil.
func loadState(path string) (*certstate.State, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read state %s", path)
	}
	var s certstate.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrapf(err, "parse state %s", path)
	}
	return &s, nil
}

// writeState writes s as indented JSON, optionally wrapped in the
// certification_state envelope.
func writeState(w io.Writer, s *certstate.State, envelope bool) error {
	var v any = s
	if envelope {
		v = map[string]*certstate.State{certstate.Envelope: s}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write state")
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "write %s", path)
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openOutput opens path for writing, or stdout when path is empty.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "create %s", path)
	}
	return f, nil
}
