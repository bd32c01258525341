package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/config"
	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/resilience"
	"github.com/sells-group/certstate-cli/internal/source"
	"github.com/sells-group/certstate-cli/pkg/firecrawl"
	"github.com/sells-group/certstate-cli/pkg/jina"
)

var (
	fetchURLsFile string
	fetchOut      string
	fetchBatch    bool
	fetchBackend  string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url...]",
	Short: "Scrape URLs into a page set",
	Long:  "Fetches each URL through Firecrawl or the Jina AI Reader and writes the pages as a JSON array that ingest --pages accepts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if fetchBackend != "" {
			cfg.Fetch.Backend = fetchBackend
		}
		if err := cfg.ValidateFor(config.ModeFetch); err != nil {
			return err
		}

		urls := args
		if fetchURLsFile != "" {
			fromFile, err := readURLs(fetchURLsFile)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}
		if len(urls) == 0 {
			return eris.New("fetch: no URLs given")
		}

		fetch, err := newFetchFunc(cfg.Fetch.Backend, fetchBatch)
		if err != nil {
			return err
		}
		pages, err := fetch(ctx, urls)
		if err != nil {
			return err
		}

		out, err := openOutput(fetchOut)
		if err != nil {
			return err
		}
		defer out.Close() //nolint:errcheck
		if err := source.WritePages(out, pages); err != nil {
			return err
		}

		zap.L().Info("fetch complete", zap.Int("requested", len(urls)), zap.Int("pages", len(pages)))
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchURLsFile, "urls", "", "file with one URL per line (# starts a comment)")
	fetchCmd.Flags().StringVar(&fetchOut, "out", "", "output page set file (default stdout)")
	fetchCmd.Flags().BoolVar(&fetchBatch, "batch", false, "use one Firecrawl batch job instead of per-URL scrapes")
	fetchCmd.Flags().StringVar(&fetchBackend, "backend", "", "page source: firecrawl or jina (default from fetch.backend)")
	rootCmd.AddCommand(fetchCmd)
}

type fetchFunc func(ctx context.Context, urls []string) ([]model.PageRecord, error)

// newFetchFunc builds the fetch call for backend from cfg.
func newFetchFunc(backend string, batch bool) (fetchFunc, error) {
	switch backend {
	case config.BackendFirecrawl:
		client := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		src := source.NewFirecrawlSource(client,
			source.WithConcurrency(cfg.Firecrawl.Concurrency),
			source.WithPollInterval(time.Duration(cfg.Firecrawl.PollIntervalSecs)*time.Second),
		)
		if batch {
			return src.FetchBatch, nil
		}
		return src.Fetch, nil
	case config.BackendJina:
		if batch {
			return nil, eris.New("fetch: --batch needs the firecrawl backend")
		}
		client := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
		return source.NewJinaSource(client, cfg.Jina.Concurrency, resilience.DefaultRetryConfig()).Fetch, nil
	default:
		return nil, eris.Errorf("fetch: unknown backend %q", backend)
	}
}

// readURLs reads one URL per line, skipping blanks and # comments.
func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, eris.Wrapf(sc.Err(), "read %s", path)
}
