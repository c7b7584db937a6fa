package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/kenyalaw-crawler/internal/config"
	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/progress"
	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/postgres"
)

type statusReport struct {
	Backend string `json:"backend"`
	crawler.ProgressSnapshot
	RecentErrors []crawler.ErrorRecord `json:"recent_errors,omitempty"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the saved crawl checkpoint",
		Long: `Reads the checkpoint of the configured progress backend without crawling and
prints the last completed page, the number of saved judgments and the most
recent errors as JSON.`,
		RunE: runStatusCommand,
	}
	cmd.Flags().Int("errors", 5, "number of most recent errors to include")
	return cmd
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("errors")
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}

	report := statusReport{Backend: e.cfg.Progress.Backend}
	var errs []crawler.ErrorRecord
	switch e.cfg.Progress.Backend {
	case config.BackendPostgres:
		store, err := postgres.NewProgressStore(cmd.Context(), e.cfg.Progress.Postgres)
		if err != nil {
			return fmt.Errorf("open progress: %w", err)
		}
		defer store.Close()
		report.ProgressSnapshot = store.Snapshot()
		errs = store.Errors()
	default:
		path := filepath.Join(e.cfg.Output.Dir, e.cfg.Output.ProgressFile)
		state, err := progress.Load(path)
		if err != nil {
			return fmt.Errorf("no readable checkpoint at %s: %w", path, err)
		}
		report.ProgressSnapshot = state.Snapshot()
		errs = state.Errors()
	}
	if limit > 0 && len(errs) > 0 {
		report.RecentErrors = errs[max(len(errs)-limit, 0):]
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
