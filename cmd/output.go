// File: cmd/output.go
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/engine"
)

// writeEvent prints one streamed event as a single line.
func writeEvent(w io.Writer, ev engine.Event) {
	switch ev.Type {
	case engine.EventStateChanged:
		fmt.Fprintf(w, "state     %s\n", ev.State)
	case engine.EventEntry:
		if ev.Entry != nil {
			fmt.Fprintf(w, "[%d] %s\n", ev.Iteration, describeEntry(*ev.Entry))
		}
	case engine.EventExited:
		if ev.Result != nil {
			writeSummary(w, *ev.Result)
		}
	}
}

func describeEntry(e schemas.ExecutionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-21s", e.Type)
	switch {
	case e.Instruction != nil:
		fmt.Fprintf(&b, " #%d %s", e.Instruction.Index, e.Instruction.Label)
	case e.DataOperation != nil:
		fmt.Fprintf(&b, " %s %s", e.DataOperation.Operation, e.DataOperation.DataSourceName)
		if e.DataOperation.RowID != nil {
			fmt.Fprintf(&b, " row=%d", *e.DataOperation.RowID)
		}
	case e.Error != nil:
		fmt.Fprintf(&b, " %s: %s", e.Error.Kind, e.Error.Message)
	case e.URL != "":
		fmt.Fprintf(&b, " page=%d %s", e.PageIndex, e.URL)
	}
	if d := e.Duration.Std(); d > 0 {
		fmt.Fprintf(&b, " (%s)", d)
	}
	if e.Note != "" {
		fmt.Fprintf(&b, " note=%q", e.Note)
	}
	return b.String()
}

func writeSummary(w io.Writer, info schemas.ScraperExecutionInfo) {
	failed := 0
	for _, it := range info.Iterations {
		if entry, ok := it.Terminal(); !ok || entry.Type == schemas.InfoError {
			failed++
		}
	}
	fmt.Fprintf(w, "\nExecution %s finished: %s\n", info.ID, info.Outcome)
	fmt.Fprintf(w, "  iterations: %d (failed: %d)\n", len(info.Iterations), failed)
	fmt.Fprintf(w, "  duration:   %s\n", info.FinishedAt.Sub(info.StartedAt).Round(1e6))
}

// writeJSON writes v as indented JSON to path, or to w when path is "-".
func writeJSON(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
