// Package store persists trading results and the phase run log in Postgres
// or SQLite.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
)

const (
	resultsTable = "spimex_trading_results"
	runsTable    = "spimex_runs"
)

// resultColumns is the insert column order for trading results.
var resultColumns = []string{
	"exchange_product_id",
	"exchange_product_name",
	"oil_id",
	"delivery_basis_id",
	"delivery_basis_name",
	"delivery_type_id",
	"volume",
	"total",
	"count",
	"date",
	"created_on",
	"updated_on",
}

// resultConflictKeys identify one record in upsert mode.
var resultConflictKeys = []string{"exchange_product_id", "date"}

// InsertMode selects how InsertResults treats existing rows.
type InsertMode string

const (
	// InsertAppend inserts every record, duplicates included.
	InsertAppend InsertMode = "append"
	// InsertUpsert keeps one row per (exchange_product_id, date).
	InsertUpsert InsertMode = "upsert"
)

// ParseInsertMode validates a mode name. Empty means append.
func ParseInsertMode(s string) (InsertMode, error) {
	switch InsertMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", InsertAppend:
		return InsertAppend, nil
	case InsertUpsert:
		return InsertUpsert, nil
	default:
		return "", eris.Errorf("store: unknown insert mode %q (want append or upsert)", s)
	}
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Phase model.Phase `json:"phase,omitempty"`
	Limit int         `json:"limit,omitempty"`
}

// RunResult holds the outcome of a phase, passed to CompleteRun.
type RunResult struct {
	Rows     int64          `json:"rows"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Store defines the persistence interface for the pipeline. A Store is
// opened per command and must be closed by the caller.
type Store interface {
	// Trading results
	InsertResults(ctx context.Context, records []model.TradingResult, mode InsertMode) (int64, error)

	// Run log
	RunLog

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// RunLog records phase runs.
type RunLog interface {
	StartRun(ctx context.Context, phase model.Phase) (string, error)
	CompleteRun(ctx context.Context, id string, result RunResult) error
	FailRun(ctx context.Context, id string, kind resilience.Kind, errMsg string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunEntry, error)
}

// Options selects and configures a backend.
type Options struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
	Pool   *PoolConfig
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.DSN == "" {
		return nil, eris.New("store: database url is required")
	}
	switch strings.ToLower(opts.Driver) {
	case "", "postgres", "postgresql", "pgx":
		return NewPostgres(ctx, opts.DSN, opts.Pool)
	case "sqlite", "sqlite3":
		return NewSQLite(opts.DSN)
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
}

// dedupeLastWins keeps the last record for each (product, date) key. ON
// CONFLICT cannot touch one row twice in a single statement.
func dedupeLastWins(records []model.TradingResult) []model.TradingResult {
	type key struct {
		id   string
		date string
	}
	last := make(map[key]int, len(records))
	for i, r := range records {
		last[key{r.ExchangeProductID, r.TradeDate.Format("2006-01-02")}] = i
	}
	if len(last) == len(records) {
		return records
	}
	out := make([]model.TradingResult, 0, len(last))
	for i, r := range records {
		if last[key{r.ExchangeProductID, r.TradeDate.Format("2006-01-02")}] == i {
			out = append(out, r)
		}
	}
	return out
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
