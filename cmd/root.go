// Package cmd defines the contributor-crawler command tree.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/config"
)

// rootOptions carries persistent flags to subcommands.
type rootOptions struct {
	cfgFile string
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "contributor-crawler",
		Short: "Discover repositories by keyword and collect their contributors.",
		Long: `contributor-crawler searches GitHub repositories created within a period,
splitting the period into windows small enough for the search API to page
through, and records the commit authors of every repository it finds.

Progress is checkpointed per keyword, so an interrupted crawl resumes where it
stopped and never processes a repository twice.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON); CRAWLER_* env vars override it")

	cmd.AddCommand(
		newCrawlCmd(opts),
		newStatusCmd(opts),
		newResetCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		_ = zap.L().Sync()
		os.Exit(1)
	}
}
