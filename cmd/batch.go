package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/certstate-cli/internal/config"
	"github.com/sells-group/certstate-cli/internal/ingest"
	"github.com/sells-group/certstate-cli/internal/source"
)

var batchManifest string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Ingest several schemes from a YAML manifest",
	Long:  "Runs one ingestion per manifest entry, up to batch.max_concurrent_runs at a time. Pages within a scheme are always processed in order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		entries, err := loadManifest(batchManifest)
		if err != nil {
			return err
		}

		env, err := initIngestEnv(ctx, config.ModeIngest)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := processBatch(ctx, entries, cfg.Batch.MaxConcurrentRuns, func(ctx context.Context, e manifestEntry) error {
			return runManifestEntry(ctx, env, e)
		})
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return eris.Errorf("batch: %d of %d schemes failed", res.Failed, len(entries))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchManifest, "manifest", "batch.yaml", "YAML manifest listing the schemes to ingest")
	rootCmd.AddCommand(batchCmd)
}

// manifestEntry is one scheme of a batch manifest. Relative paths resolve
// against the manifest's directory.
type manifestEntry struct {
	Scheme          string `yaml:"scheme"`
	Pages           string `yaml:"pages"`
	State           string `yaml:"state"`
	Out             string `yaml:"out"`
	Resume          bool   `yaml:"resume"`
	PreferOverwrite *bool  `yaml:"prefer_overwrite"`
}

type manifest struct {
	Schemes []manifestEntry `yaml:"schemes"`
}

// loadManifest reads and checks a batch manifest.
func loadManifest(path string) ([]manifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: read manifest %s", path)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "batch: parse manifest %s", path)
	}
	if len(m.Schemes) == 0 {
		return nil, eris.Errorf("batch: manifest %s lists no schemes", path)
	}

	dir := filepath.Dir(path)
	seen := make(map[string]bool, len(m.Schemes))
	for i := range m.Schemes {
		e := &m.Schemes[i]
		e.Scheme = strings.TrimSpace(e.Scheme)
		if e.Scheme == "" {
			return nil, eris.Errorf("batch: entry %d has no scheme", i)
		}
		if e.Pages == "" {
			return nil, eris.Errorf("batch: scheme %q has no pages", e.Scheme)
		}
		if seen[e.Scheme] {
			return nil, eris.Errorf("batch: scheme %q listed twice", e.Scheme)
		}
		seen[e.Scheme] = true
		e.Pages = resolvePath(dir, e.Pages)
		e.State = resolvePath(dir, e.State)
		e.Out = resolvePath(dir, e.Out)
	}
	return m.Schemes, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// batchResult counts finished schemes.
type batchResult struct {
	Succeeded int
	Failed    int
}

// runEntryFunc ingests one manifest entry.
type runEntryFunc func(ctx context.Context, e manifestEntry) error

// processBatch runs entries concurrently, at most concurrency at a time. A
// failed scheme is logged and counted; it never stops the others.
func processBatch(ctx context.Context, entries []manifestEntry, concurrency int, run runEntryFunc) (batchResult, error) {
	if len(entries) == 0 {
		zap.L().Info("no schemes to ingest")
		return batchResult{}, nil
	}

	zap.L().Info("processing batch",
		zap.Int("schemes", len(entries)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	var succeeded, failed atomic.Int64
	for _, e := range entries {
		g.Go(func() error {
			log := zap.L().With(zap.String("scheme", e.Scheme))
			if err := run(gctx, e); err != nil {
				failed.Add(1)
				log.Error("scheme ingestion failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			succeeded.Add(1)
			log.Info("scheme ingestion complete")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return batchResult{}, eris.Wrap(err, "batch processing")
	}

	res := batchResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	zap.L().Info("batch complete",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// runManifestEntry loads one entry's inputs, ingests them and writes the
// final record to its out file, if any.
func runManifestEntry(ctx context.Context, env *ingestEnv, e manifestEntry) error {
	pages, err := source.LoadPages(e.Pages)
	if err != nil {
		return err
	}
	initial, err := loadState(e.State)
	if err != nil {
		return err
	}

	_, res, err := env.Runner.Run(ctx, ingest.Job{
		Scheme:          e.Scheme,
		Pages:           pages,
		Initial:         initial,
		Rules:           env.Rules,
		Resume:          e.Resume,
		PreferOverwrite: e.PreferOverwrite,
	})
	if err != nil {
		return err
	}
	if e.Out == "" {
		return nil
	}

	out, err := openOutput(e.Out)
	if err != nil {
		return err
	}
	if err := writeState(out, res.State, false); err != nil {
		out.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(out.Close(), "close %s", e.Out)
}
