// Package cmd defines the CLI commands for the kenyalaw-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const closeTimeout = 15 * time.Second

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the judgments catalog",
		Long: `Walks the catalog one listing page at a time, fetching each judgment not yet
saved with a small pool of workers. Progress is checkpointed after every page;
interrupting the crawl (Ctrl-C) stops after the current page and a later run
resumes from the checkpoint unless --no-resume is given.`,
		RunE: runCrawlCommand,
	}
	flags := cmd.Flags()
	flags.Bool("no-resume", false, "ignore the saved checkpoint and start fresh")
	flags.Int("max-pages", 0, "stop after this many listing pages (0 means all)")
	flags.Int("start-page", 1, "first listing page when not resuming")
	flags.Int("workers", 3, "concurrent judgment downloads per page")
	flags.String("status-addr", "", "serve status and metrics on this address, e.g. :8080")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := newApp(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		runner.Close(closeCtx)
	}()

	summary, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if ctx.Err() != nil {
		e.logger.Info("Crawl interrupted; progress saved", zap.String("output_dir", e.cfg.Output.Dir))
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(),
		"Saved %d of %d judgments found across %d pages (%d failed, %d without content, %d errors)\n",
		summary.TotalSaved, summary.TotalJudgmentsFound, summary.TotalPagesScraped,
		summary.Failed, summary.NoContent, summary.Errors,
	)
	return err
}
