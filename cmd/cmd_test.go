// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/scrapeflow/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// executeCommand runs a fresh root command with an isolated environment.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SCRAPEFLOW_DATABASE_URL", "")
	t.Setenv("SCRAPEFLOW_LOGGER_LEVEL", "error")

	root := newRootCmd(service.NewComponentFactory())
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

const bundleYAML = `
tables:
  - name: products
    columns:
      - {name: name, type: TEXT}
      - {name: price, type: REAL}
scrapers:
  - id: books
    name: Books
    instructions: []
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "scrapeflow "+Version)
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Scrapeflow runs declarative browser scrapers")
	for _, sub := range []string{"serve", "run", "routine", "history", "datastore", "apply"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_ConfigFile(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		_, err := executeCommand(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "history")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})

	t.Run("Invalid", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "browser:\n  max_slots: 0\n")
		_, err := executeCommand(t, "--config", path, "history")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.max_slots")
	})

	t.Run("Overrides", func(t *testing.T) {
		dsn := filepath.Join(t.TempDir(), "data.db")
		path := writeFile(t, "config.yaml", "datastore:\n  dsn: "+dsn+"\n")
		_, err := executeCommand(t, "--config", path, "datastore", "tables")
		require.NoError(t, err)
		assert.FileExists(t, dsn)
	})
}

func TestApplyAndDatastoreCmds(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "data.db")
	bundle := writeFile(t, "bundle.yaml", bundleYAML)

	out, err := executeCommand(t, "--datastore", dsn, "apply", bundle)
	require.NoError(t, err)
	assert.Contains(t, out, "1 tables, 1 scrapers, 0 routines")

	out, err = executeCommand(t, "--datastore", dsn, "datastore", "tables")
	require.NoError(t, err)
	assert.Contains(t, out, "products")
	assert.Contains(t, out, "price REAL")

	out, err = executeCommand(t, "--datastore", dsn, "ds", "describe", "products")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "products"`)

	out, err = executeCommand(t, "--datastore", dsn, "datastore", "rows", "products")
	require.NoError(t, err)
	assert.Contains(t, out, "[]")

	_, err = executeCommand(t, "--datastore", dsn, "datastore", "drop", "products")
	require.NoError(t, err)

	_, err = executeCommand(t, "--datastore", dsn, "datastore", "describe", "products")
	assert.Error(t, err)
}

func TestHistoryCmd(t *testing.T) {
	out, err := executeCommand(t, "--datastore", ":memory:", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 0 executions")

	out, err = executeCommand(t, "--datastore", ":memory:", "history", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 0`)
}

func TestRoutineCmd(t *testing.T) {
	_, err := executeCommand(t, "--datastore", ":memory:", "routine", "list")
	require.NoError(t, err)

	_, err = executeCommand(t, "--datastore", ":memory:", "routine", "pause", "missing")
	assert.Error(t, err)

	_, err = executeCommand(t, "--datastore", ":memory:", "routine", "pause")
	assert.Error(t, err, "routine id is required")
}

func TestRunCmd_Validation(t *testing.T) {
	_, err := executeCommand(t, "--datastore", ":memory:", "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a scraper id or --file is required")

	_, err = executeCommand(t, "--datastore", ":memory:", "run", "--file", writeFile(t, "bad.json", "{"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")

	_, err = executeCommand(t, "--datastore", ":memory:", "run", "books", "--iterator", "{type:")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse iterator")

	_, err = executeCommand(t, "--datastore", ":memory:", "run", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
