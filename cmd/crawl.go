package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/app"
	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

type crawlOptions struct {
	keyword string
	start   string
	end     string
	serve   bool
}

// newCrawlCmd creates the 'crawl' subcommand. Flags override the search
// section of the configuration.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run or resume a crawl for one keyword",
		Long: `Plans creation-time windows for the keyword, pages through each window and
records the contributors of every repository found. If the keyword has a
stored checkpoint the crawl resumes from it and the period flags are ignored.

SIGINT or SIGTERM suspends the crawl with its position saved.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.keyword, "keyword", "k", "", "search keyword (overrides search.keyword)")
	cmd.Flags().StringVar(&opts.start, "start", "", "period start, YYYY-MM-DD (overrides search.start)")
	cmd.Flags().StringVar(&opts.end, "end", "", "period end, exclusive, YYYY-MM-DD (overrides search.end)")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "serve the status API while crawling (overrides server.enabled)")
	return cmd
}

func runCrawl(cmd *cobra.Command, root *rootOptions, opts *crawlOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if opts.keyword != "" {
		cfg.Search.Keyword = opts.keyword
	}
	if opts.start != "" {
		cfg.Search.Start = opts.start
	}
	if opts.end != "" {
		cfg.Search.End = opts.end
	}
	if opts.serve {
		cfg.Server.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			a.Logger().Warn("close application", zap.Error(cerr))
		}
	}()

	sum, err := a.Crawl(ctx)
	if sum.RunID != "" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(sum); encErr != nil {
			a.Logger().Warn("print summary", zap.Error(encErr))
		}
	}
	var suspended *crawler.SuspendedError
	if errors.As(err, &suspended) && errors.Is(err, context.Canceled) {
		a.Logger().Info("crawl interrupted; run again to resume",
			zap.String("keyword", suspended.Keyword),
			zap.Int("sub_range", suspended.SubRangeIndex),
			zap.Int("entity", suspended.EntityIndex),
		)
	}
	if err != nil {
		return fmt.Errorf("crawl %q: %w", cfg.Search.Keyword, err)
	}
	return nil
}
