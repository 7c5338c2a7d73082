// internal/definitions/definitions.go
package definitions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/titanous/json5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/datastore"
)

// Bundle is the content of a definition file: scrapers, the routines that
// schedule them, and the data tables they read and write. A file whose top
// level has an "instructions" key is read as a single scraper.
type Bundle struct {
	Tables   []schemas.DataStoreTable `json:"tables,omitempty" yaml:"tables,omitempty"`
	Scrapers []schemas.ScraperType    `json:"scrapers,omitempty" yaml:"scrapers,omitempty"`
	Routines []schemas.Routine        `json:"routines,omitempty" yaml:"routines,omitempty"`
}

// Format names a definition file syntax.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSON5 Format = "json5"
	FormatYAML  Format = "yaml"
)

// FormatFor picks the syntax from the file extension. Unknown extensions are
// read as JSON5, which accepts plain JSON too.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatJSON5
	}
}

// LoadFile reads and decodes a definition file.
func LoadFile(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	b, err := Decode(raw, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Decode parses raw in the given syntax. Every syntax is first reduced to a
// generic document and then decoded with the JSON codecs of the schema
// types, so durations are milliseconds and ranges normalize the same way
// whatever the file format.
func Decode(raw []byte, format Format) (*Bundle, error) {
	var doc any
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(raw, &doc)
	case FormatJSON5:
		err = json5.Unmarshal(raw, &doc)
	case FormatJSON:
		err = json.Unmarshal(raw, &doc)
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", format, err)
	}

	top, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New("definition file must contain an object")
	}
	normalized, err := json.Marshal(top)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize definition: %w", err)
	}

	var b Bundle
	if _, single := top["instructions"]; single {
		var scraper schemas.ScraperType
		if err := json.Unmarshal(normalized, &scraper); err != nil {
			return nil, fmt.Errorf("invalid scraper: %w", err)
		}
		b.Scrapers = []schemas.ScraperType{scraper}
	} else if err := json.Unmarshal(normalized, &b); err != nil {
		return nil, fmt.Errorf("invalid definition bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks identities and references inside the bundle. Instruction
// programs are validated when they are compiled for a run.
func (b *Bundle) Validate() error {
	scrapers := make(map[string]bool, len(b.Scrapers))
	for i, s := range b.Scrapers {
		if s.ID == "" {
			return fmt.Errorf("scraper #%d has no id", i)
		}
		if scrapers[s.ID] {
			return fmt.Errorf("duplicate scraper id %q", s.ID)
		}
		scrapers[s.ID] = true
	}
	for i, r := range b.Routines {
		if r.ID == "" {
			return fmt.Errorf("routine #%d has no id", i)
		}
		if r.ScraperID == "" {
			return fmt.Errorf("routine %q has no scraper id", r.ID)
		}
	}
	for _, t := range b.Tables {
		if err := datastore.ValidateTable(t); err != nil {
			return err
		}
	}
	return nil
}

// Sink receives the contents of a bundle.
type Sink interface {
	UpsertScraper(ctx context.Context, scraper schemas.ScraperType) error
	UpsertRoutine(ctx context.Context, routine schemas.Routine) error
}

// TableCreator creates data tables.
type TableCreator interface {
	CreateTable(ctx context.Context, table schemas.DataStoreTable) error
}

// Apply creates missing tables and upserts scrapers and routines. Tables
// that already exist are left untouched.
func Apply(ctx context.Context, b *Bundle, sink Sink, tables TableCreator, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, t := range b.Tables {
		err := tables.CreateTable(ctx, t)
		switch {
		case errors.Is(err, datastore.ErrTableExists):
			logger.Debug("Table already exists, keeping it.", zap.String("table", t.Name))
		case err != nil:
			return fmt.Errorf("failed to create table %q: %w", t.Name, err)
		}
	}
	for _, s := range b.Scrapers {
		if err := sink.UpsertScraper(ctx, s); err != nil {
			return err
		}
	}
	for _, r := range b.Routines {
		if r.Status == "" {
			r.Status = schemas.RoutineActive
		}
		if err := sink.UpsertRoutine(ctx, r); err != nil {
			return err
		}
	}
	logger.Info("Definitions applied.",
		zap.Int("tables", len(b.Tables)),
		zap.Int("scrapers", len(b.Scrapers)),
		zap.Int("routines", len(b.Routines)),
	)
	return nil
}

// DecodeIterator parses an inline JSON5 iterator such as
// `{type: 'range', dataSourceName: 'products', range: {start: 1, end: 10}}`.
func DecodeIterator(raw string) (*schemas.ExecutionIterator, error) {
	var doc any
	if err := json5.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse iterator: %w", err)
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize iterator: %w", err)
	}
	var it schemas.ExecutionIterator
	if err := json.Unmarshal(normalized, &it); err != nil {
		return nil, fmt.Errorf("invalid iterator: %w", err)
	}
	return &it, nil
}
