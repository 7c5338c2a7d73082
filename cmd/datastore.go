// File: cmd/datastore.go
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scrapeflow/internal/datastore"
	"github.com/xkilldash9x/scrapeflow/internal/definitions"
	"github.com/xkilldash9x/scrapeflow/internal/observability"
	"github.com/xkilldash9x/scrapeflow/internal/service"
)

func newDatastoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datastore",
		Aliases: []string{"ds"},
		Short:   "Inspect the data tables scrapers read and write",
	}

	var (
		limit int
		desc  bool
	)
	rows := &cobra.Command{
		Use:   "rows <table>",
		Short: "Print rows of a table as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
				result, err := c.DataStore.Select(ctx, args[0], datastore.Query{Limit: limit, Descending: desc})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), "-", result)
			})
		},
	}
	rows.Flags().IntVar(&limit, "limit", 50, "maximum rows to print (0 for all)")
	rows.Flags().BoolVar(&desc, "desc", false, "newest rows first")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "tables",
			Short: "List tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
					tables, err := c.DataStore.ListTables(ctx)
					if err != nil {
						return err
					}
					table := tablewriter.NewWriter(cmd.OutOrStdout())
					table.SetHeader([]string{"Table", "Columns", "Rows"})
					for _, t := range tables {
						n, err := c.DataStore.Count(ctx, t.Name, "")
						if err != nil {
							return err
						}
						cols := make([]string, 0, len(t.Columns))
						for _, col := range t.Columns {
							cols = append(cols, fmt.Sprintf("%s %s", col.Name, col.Type))
						}
						table.Append([]string{t.Name, strings.Join(cols, ", "), fmt.Sprint(n)})
					}
					table.SetBorder(false)
					table.Render()
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "describe <table>",
			Short: "Print the schema of a table as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
					t, err := c.DataStore.Describe(ctx, args[0])
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), "-", t)
				})
			},
		},
		rows,
		&cobra.Command{
			Use:   "drop <table>",
			Short: "Drop a table and its rows",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
					return c.DataStore.DropTable(ctx, args[0])
				})
			},
		},
	)
	return cmd
}

func newApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file>...",
		Short: "Store scrapers, routines and tables from definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger().Named("apply")
			return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
				for _, path := range args {
					bundle, err := definitions.LoadFile(path)
					if err != nil {
						return err
					}
					if err := definitions.Apply(ctx, bundle, c.Repository, c.DataStore, logger); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tables, %d scrapers, %d routines\n",
						path, len(bundle.Tables), len(bundle.Scrapers), len(bundle.Routines))
				}
				return nil
			})
		},
	}
}
