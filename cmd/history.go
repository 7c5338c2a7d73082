// File: cmd/history.go
package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/service"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		q      schemas.HistoryQuery
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [scraper-id]",
		Short: "List finished executions, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				q.ScraperID = args[0]
			}
			return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
				page, err := c.Repository.ListExecutionHistory(ctx, q)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), "-", page)
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"Execution", "Scraper", "Routine", "Outcome", "Started", "Duration", "Iterations"})
				for _, info := range page.Items {
					table.Append([]string{
						info.ID, info.ScraperID, info.RoutineID, string(info.Outcome),
						info.StartedAt.Local().Format(time.DateTime),
						info.FinishedAt.Sub(info.StartedAt).Round(time.Millisecond).String(),
						strconv.Itoa(len(info.Iterations)),
					})
				}
				table.SetBorder(false)
				table.Render()
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d executions\n", len(page.Items), page.Total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "number of executions to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the page as JSON")
	return cmd
}
