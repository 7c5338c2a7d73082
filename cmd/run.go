// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/definitions"
	"github.com/xkilldash9x/scrapeflow/internal/engine"
	"github.com/xkilldash9x/scrapeflow/internal/observability"
	"github.com/xkilldash9x/scrapeflow/internal/service"
)

type runOptions struct {
	file     string
	iterator string
	output   string
	headed   bool
	persist  bool
	quiet    bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [scraper-id]",
		Short: "Execute a scraper once and stream its trace",
		Long: `Execute a scraper and stream its trace until it exits.

With --file the definitions in the file are loaded first. They are kept in
memory unless --persist is given. A file holding a single scraper needs no
scraper id.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScraper(cmd, a, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "definition file (yaml, json, json5)")
	f.StringVarP(&opts.iterator, "iterator", "i", "", "iterator as JSON5, e.g. \"{type: 'entireSet', dataSourceName: 'products'}\"")
	f.StringVarP(&opts.output, "output", "o", "", "write the final execution record as JSON to this path (- for stdout)")
	f.BoolVar(&opts.headed, "headed", false, "show the browser window")
	f.BoolVar(&opts.persist, "persist", false, "store definitions and history in the configured database")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "only print the summary")
	return cmd
}

func runScraper(cmd *cobra.Command, a *app, opts runOptions, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger().Named("run")
	out := cmd.OutOrStdout()

	if opts.headed {
		a.cfg.SetBrowserHeadless(false)
	}

	var bundle *definitions.Bundle
	if opts.file != "" {
		var err error
		if bundle, err = definitions.LoadFile(opts.file); err != nil {
			return err
		}
	}
	scraperID, err := pickScraper(bundle, args)
	if err != nil {
		return err
	}

	var it *schemas.ExecutionIterator
	if opts.iterator != "" {
		if it, err = definitions.DecodeIterator(opts.iterator); err != nil {
			return err
		}
	}

	components, err := a.components(cmd, service.Options{InMemoryRepository: bundle != nil && !opts.persist})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
		defer cancel()
		components.Shutdown(shutdownCtx)
	}()

	if bundle != nil {
		if err := definitions.Apply(ctx, bundle, components.Repository, components.DataStore, logger); err != nil {
			return err
		}
	}

	id, err := components.Engine.Execute(ctx, engine.Request{ScraperID: scraperID, Iterator: it})
	if err != nil {
		return err
	}
	logger.Info("Execution started.", zap.String("execution_id", id), zap.String("scraper_id", scraperID))

	stream := out
	if opts.quiet {
		stream = io.Discard
	}
	result, err := follow(ctx, stream, components.Engine, id)
	if err != nil {
		return err
	}
	if opts.quiet {
		writeSummary(out, result)
	}

	if opts.output != "" {
		if err := writeJSON(out, opts.output, result); err != nil {
			return err
		}
	}
	if result.Outcome != schemas.OutcomeSuccess {
		return fmt.Errorf("execution %s finished with outcome %s", id, result.Outcome)
	}
	return nil
}

// pickScraper resolves the scraper to run from the arguments or the only
// scraper of the loaded bundle.
func pickScraper(bundle *definitions.Bundle, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if bundle == nil {
		return "", errors.New("a scraper id or --file is required")
	}
	if len(bundle.Scrapers) != 1 {
		return "", fmt.Errorf("the definition file holds %d scrapers; name the one to run", len(bundle.Scrapers))
	}
	return bundle.Scrapers[0].ID, nil
}

// executionFollower is the part of the engine follow needs.
type executionFollower interface {
	Subscribe(id string) (<-chan engine.Event, func(), error)
	Terminate(id string) error
	Wait(ctx context.Context, id string) (schemas.ScraperExecutionInfo, error)
}

// follow streams events of an execution to w until it exits. Cancelling ctx
// terminates the execution and keeps following until the trace is final.
func follow(ctx context.Context, w io.Writer, e executionFollower, id string) (schemas.ScraperExecutionInfo, error) {
	events, unsubscribe, err := e.Subscribe(id)
	if err != nil {
		return schemas.ScraperExecutionInfo{}, err
	}
	defer unsubscribe()

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			if err := e.Terminate(id); err != nil && !errors.Is(err, engine.ErrExecutionNotFound) {
				return schemas.ScraperExecutionInfo{}, err
			}
		case ev, ok := <-events:
			if !ok {
				// Dropped for falling behind; the record is still complete.
				return e.Wait(context.WithoutCancel(ctx), id)
			}
			writeEvent(w, ev)
			if ev.Type == engine.EventExited && ev.Result != nil {
				return *ev.Result, nil
			}
		}
	}
}
