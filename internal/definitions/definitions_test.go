// internal/definitions/definitions_test.go
package definitions

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/config"
	"github.com/xkilldash9x/scrapeflow/internal/datastore"
	"github.com/xkilldash9x/scrapeflow/internal/store"
)

const bundleYAML = `
tables:
  - name: products
    columns:
      - {name: name, type: TEXT}
      - {name: price, type: REAL}
scrapers:
  - id: books
    name: Books
    instructions:
      - type: pageAction
        pageAction: {type: navigate, url: "https://books.example.com"}
      - type: pageAction
        pageAction: {type: wait, duration: 1500}
routines:
  - id: nightly
    scraperId: books
    scheduler:
      type: interval
      interval: 86400000
      startAt: 2026-01-01T00:00:00Z
    pauseAfterNumberOfFailedExecutions: 3
`

const scraperJSON5 = `{
  // single scraper files skip the bundle wrapper
  id: 'quotes',
  name: 'Quotes',
  instructions: [
    {type: 'pageAction', pageAction: {type: 'wait', duration: 250,}},
  ],
}`

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("a.yaml"))
	assert.Equal(t, FormatYAML, FormatFor("A.YML"))
	assert.Equal(t, FormatJSON, FormatFor("a.json"))
	assert.Equal(t, FormatJSON5, FormatFor("a.json5"))
	assert.Equal(t, FormatJSON5, FormatFor("scraper"))
}

func TestDecode(t *testing.T) {
	t.Run("YAMLBundle", func(t *testing.T) {
		b, err := Decode([]byte(bundleYAML), FormatYAML)
		require.NoError(t, err)

		require.Len(t, b.Tables, 1)
		assert.Equal(t, schemas.ColumnReal, b.Tables[0].Columns[1].Type)

		require.Len(t, b.Scrapers, 1)
		require.Len(t, b.Scrapers[0].Instructions, 2)
		assert.Equal(t, 1500*time.Millisecond, b.Scrapers[0].Instructions[1].PageAction.Duration.Std())

		require.Len(t, b.Routines, 1)
		r := b.Routines[0]
		assert.Equal(t, 24*time.Hour, r.Scheduler.Interval.Std())
		assert.True(t, r.Scheduler.StartAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, 3, r.PauseAfterNumberOfFailedExecutions)
	})

	t.Run("JSON5Scraper", func(t *testing.T) {
		b, err := Decode([]byte(scraperJSON5), FormatJSON5)
		require.NoError(t, err)
		require.Len(t, b.Scrapers, 1)
		assert.Equal(t, "quotes", b.Scrapers[0].ID)
		assert.Equal(t, 250*time.Millisecond, b.Scrapers[0].Instructions[0].PageAction.Duration.Std())
	})

	t.Run("JSON", func(t *testing.T) {
		b, err := Decode([]byte(`{"id":"s","instructions":[]}`), FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "s", b.Scrapers[0].ID)
	})

	tests := []struct {
		name    string
		doc     string
		format  Format
		wantErr string
	}{
		{"Syntax", "{", FormatJSON, "failed to parse json"},
		{"NotObject", "[1, 2]", FormatJSON, "must contain an object"},
		{"MissingScraperID", `{"instructions": []}`, FormatJSON, "scraper #0 has no id"},
		{"DuplicateScraper", `{"scrapers": [{"id": "a"}, {"id": "a"}]}`, FormatJSON, `duplicate scraper id "a"`},
		{"RoutineWithoutScraper", `{"routines": [{"id": "r"}]}`, FormatJSON, `routine "r" has no scraper id`},
		{"BadTable", `{"tables": [{"name": "t", "columns": [{"name": "id", "type": "TEXT"}]}]}`, FormatJSON, "reserved"},
		{"UnknownFormat", "{}", Format("toml"), "unsupported definition format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc), tt.format)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quotes.json5")
	require.NoError(t, os.WriteFile(path, []byte(scraperJSON5), 0o600))

	b, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "quotes", b.Scrapers[0].ID)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read definition file")
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	ds, err := datastore.Open(ctx, config.DataStoreConfig{DSN: ":memory:", BatchSize: 10}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	repo := store.NewMemory()

	b, err := Decode([]byte(bundleYAML), FormatYAML)
	require.NoError(t, err)
	b.Routines[0].Status = ""

	require.NoError(t, Apply(ctx, b, repo, ds, logger))
	require.NoError(t, Apply(ctx, b, repo, ds, logger), "applying twice keeps existing tables")

	_, err = repo.GetScraper(ctx, "books")
	require.NoError(t, err)
	r, err := repo.GetRoutine(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, schemas.RoutineActive, r.Status)

	table, err := ds.Describe(ctx, "products")
	require.NoError(t, err)
	assert.Len(t, table.Columns, 2)
}
