package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/app"
	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/store"
)

// newStatusCmd creates the 'status' subcommand.
func newStatusCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [keyword]",
		Short: "Show live checkpoints",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), root, func(st store.Store) error {
				var cps []crawler.Checkpoint
				if len(args) == 1 {
					cp, err := st.Load(cmd.Context(), args[0])
					if err != nil {
						return fmt.Errorf("load checkpoint: %w", err)
					}
					if cp == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "no checkpoint for %q\n", args[0])
						return nil
					}
					cps = append(cps, *cp)
				} else {
					var err error
					if cps, err = st.List(cmd.Context()); err != nil {
						return fmt.Errorf("list checkpoints: %w", err)
					}
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(cps)
				}
				printCheckpoints(cmd, cps)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print checkpoints as JSON")
	return cmd
}

func printCheckpoints(cmd *cobra.Command, cps []crawler.Checkpoint) {
	if len(cps) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no live checkpoints")
		return
	}
	tbl := table.NewWriter()
	tbl.SetOutputMirror(cmd.OutOrStdout())
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.AppendHeader(table.Row{"Keyword", "Run", "Range", "Entity", "Found", "Updated"})
	for _, cp := range cps {
		tbl.AppendRow(table.Row{
			cp.Keyword,
			cp.RunID,
			fmt.Sprintf("%d/%d", cp.SubRangeIndex, len(cp.SubRanges)),
			cp.EntityIndex,
			cp.TotalEntitiesFound,
			cp.LastUpdated.UTC().Format(time.RFC3339),
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(cps))})
	tbl.Render()
}

// newResetCmd creates the 'reset' subcommand.
func newResetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <keyword>",
		Short: "Discard a keyword's checkpoint so the next crawl plans afresh",
		Long: `Deletes the stored checkpoint for a keyword. Processed repositories and
collected contributors are kept, so a fresh crawl still skips them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), root, func(st store.Store) error {
				if err := st.Clear(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("clear checkpoint: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checkpoint for %q cleared\n", args[0])
				return nil
			})
		},
	}
}

// newMigrateCmd creates the 'migrate' subcommand.
func newMigrateCmd(root *rootOptions) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured store",
		Long: `Applies pending schema migrations. With --down every migration is reverted
instead, dropping checkpoints, processed repositories and contributors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			apply := app.Migrate
			if down {
				apply = app.Rollback
			}
			version, err := apply(cmd.Context(), cfg.Store, zap.L())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", cfg.Store.Driver, version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert all migrations")
	return cmd
}

func withStore(ctx context.Context, root *rootOptions, fn func(store.Store) error) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	st, err := app.OpenStore(ctx, cfg.Store, zap.L())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			zap.L().Warn("close store", zap.Error(cerr))
		}
	}()
	return fn(st)
}
