package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/app"
	"github.com/JakeFAU/kenyalaw-crawler/internal/config"
	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand receives from the root command.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// Runner is the part of the application the crawl command drives. It lets
// tests inject a fake.
type Runner interface {
	Run(ctx context.Context) (crawler.Summary, error)
	Close(ctx context.Context)
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger builds the process logger, replaced in tests.
var newLogger = logging.New

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "kenyalaw-crawler",
		Short: "Resumable crawler for the Kenya Law judgments catalog.",
		Long: `kenyalaw-crawler walks the paginated Kenya Law judgments catalog, downloads
every judgment it has not saved before, files it by court and keeps a
checkpoint so an interrupted run picks up where it stopped.`,
		SilenceUsage: true,

		// Flags are parsed by now, so overrides for the running subcommand apply.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().String("output", "", "output directory for judgments and run files")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

// applyFlagOverrides copies explicitly set flags over the loaded config and
// validates the result.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("output") {
		cfg.Output.Dir, err = flags.GetString("output")
	}
	if err == nil && flags.Changed("no-resume") {
		var noResume bool
		noResume, err = flags.GetBool("no-resume")
		cfg.Crawler.Resume = !noResume
	}
	if err == nil && flags.Changed("max-pages") {
		cfg.Crawler.MaxPages, err = flags.GetInt("max-pages")
	}
	if err == nil && flags.Changed("start-page") {
		cfg.Crawler.StartPage, err = flags.GetInt("start-page")
	}
	if err == nil && flags.Changed("workers") {
		cfg.Crawler.Workers, err = flags.GetInt("workers")
	}
	if err == nil && flags.Changed("status-addr") {
		cfg.Server.Addr, err = flags.GetString("status-addr")
	}
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
