// File: cmd/routine.go
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

func newRoutineCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routine",
		Short: "Inspect and control scheduled routines",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List routines and their schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
					routines, err := c.Repository.ListRoutines(ctx)
					if err != nil {
						return err
					}
					table := tablewriter.NewWriter(cmd.OutOrStdout())
					table.SetHeader([]string{"ID", "Scraper", "Status", "Runs", "Failed", "Next"})
					for _, r := range routines {
						table.Append([]string{
							r.ID, r.ScraperID, string(r.Status),
							strconv.Itoa(r.PreviousExecutionsCount),
							strconv.Itoa(r.FailedExecutionsInARow),
							formatTime(r.NextScheduledExecutionAt),
						})
					}
					table.SetBorder(false)
					table.Render()
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "pause <routine-id>",
			Short: "Stop firing a routine",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
					if err := c.Scheduler.Pause(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Routine %s paused.\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "resume <routine-id>",
			Short: "Reactivate a paused routine and reset its failure count",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
					if err := c.Scheduler.Resume(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Routine %s resumed.\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "run-now <routine-id>",
			Short: "Fire a routine immediately and wait for it to finish",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
					id, err := c.Scheduler.RunNow(ctx, args[0])
					if err != nil {
						return err
					}
					result, err := follow(ctx, cmd.OutOrStdout(), c.Engine, id)
					if err != nil {
						return err
					}
					if result.Outcome != schemas.OutcomeSuccess {
						return fmt.Errorf("execution %s finished with outcome %s", id, result.Outcome)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <routine-id>",
			Short: "Delete a routine",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, a, func(ctx context.Context, c *service.Components) error {
					return c.Repository.DeleteRoutine(ctx, args[0])
				})
			},
		},
	)
	return cmd
}

// withComponents builds the configured components, runs fn and shuts them down.
func withComponents(cmd *cobra.Command, a *app, fn func(ctx context.Context, c *service.Components) error) error {
	ctx := cmd.Context()
	c, err := a.components(cmd, service.Options{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
		defer cancel()
		c.Shutdown(shutdownCtx)
	}()
	return fn(ctx, c)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
