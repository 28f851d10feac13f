package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite://"))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS spimex_trading_results (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange_product_id   TEXT NOT NULL,
	exchange_product_name TEXT,
	oil_id                TEXT,
	delivery_basis_id     TEXT,
	delivery_basis_name   TEXT,
	delivery_type_id      TEXT,
	volume                TEXT,
	total                 TEXT,
	count                 INTEGER,
	date                  TEXT,
	created_on            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_on            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_spimex_trading_results_date ON spimex_trading_results(date);
CREATE INDEX IF NOT EXISTS idx_spimex_trading_results_oil ON spimex_trading_results(oil_id, delivery_type_id, delivery_basis_id);

CREATE TABLE IF NOT EXISTS spimex_runs (
	id            TEXT PRIMARY KEY,
	phase         TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at  DATETIME,
	rows_affected INTEGER NOT NULL DEFAULT 0,
	error_kind    TEXT,
	error         TEXT,
	metadata      TEXT
);

CREATE INDEX IF NOT EXISTS idx_spimex_runs_phase_started ON spimex_runs(phase, started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return resilience.WithKind(resilience.KindStorage, eris.Wrap(err, "sqlite: migrate"))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertResults runs one prepared insert per record inside a single
// transaction. Any failing row rolls back the whole batch.
func (s *SQLiteStore) InsertResults(ctx context.Context, records []model.TradingResult, mode InsertMode) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `INSERT INTO spimex_trading_results (` + strings.Join(resultColumns, ", ") + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if mode == InsertUpsert {
		if _, err := s.db.ExecContext(ctx,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_spimex_trading_results_product_date
			 ON spimex_trading_results(exchange_product_id, date)`,
		); err != nil {
			return 0, storageErr(err, "sqlite: ensure upsert index")
		}
		query += ` ON CONFLICT(exchange_product_id, date) DO UPDATE SET
			exchange_product_name = excluded.exchange_product_name,
			oil_id = excluded.oil_id,
			delivery_basis_id = excluded.delivery_basis_id,
			delivery_basis_name = excluded.delivery_basis_name,
			delivery_type_id = excluded.delivery_type_id,
			volume = excluded.volume,
			total = excluded.total,
			count = excluded.count,
			updated_on = excluded.updated_on`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr(err, "sqlite: begin insert tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, storageErr(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx,
			nullText(r.ExchangeProductID),
			nullText(r.ExchangeProductName),
			nullText(r.OilID),
			nullText(r.DeliveryBasisID),
			nullText(r.DeliveryBasisName),
			nullText(r.DeliveryTypeID),
			decimalText(r.Volume),
			decimalText(r.Total),
			r.Count,
			dateText(r.TradeDate),
			r.CreatedOn,
			r.UpdatedOn,
		); err != nil {
			return 0, resilience.WithKind(resilience.KindStorage,
				eris.Wrapf(err, "sqlite: insert result %d (%s)", i, r.ExchangeProductID))
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr(err, "sqlite: commit insert tx")
	}
	return n, nil
}

func decimalText(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func dateText(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format("2006-01-02")
}

// --- Run log ---

func (s *SQLiteStore) StartRun(ctx context.Context, phase model.Phase) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spimex_runs (id, phase, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(phase), string(model.RunStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start %s run", phase)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, result RunResult) error {
	var meta any
	if result.Metadata != nil {
		b, err := json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run metadata")
		}
		meta = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE spimex_runs SET status = ?, completed_at = ?, rows_affected = ?, metadata = ? WHERE id = ?`,
		string(model.RunStatusComplete), time.Now().UTC(), result.Rows, meta, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, kind resilience.Kind, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE spimex_runs SET status = ?, completed_at = ?, error_kind = ?, error = ? WHERE id = ?`,
		string(model.RunStatusFailed), time.Now().UTC(), string(kind), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunEntry, error) {
	query := `SELECT id, phase, status, started_at, completed_at, rows_affected, error_kind, error, metadata
		FROM spimex_runs WHERE 1=1`
	var args []any

	if filter.Phase != "" {
		query += ` AND phase = ?`
		args = append(args, string(filter.Phase))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.RunEntry
	for rows.Next() {
		var (
			e           model.RunEntry
			phase       string
			status      string
			completedAt sql.NullTime
			errKind     sql.NullString
			errStr      sql.NullString
			meta        sql.NullString
		)
		if err := rows.Scan(&e.ID, &phase, &status, &e.StartedAt, &completedAt,
			&e.Rows, &errKind, &errStr, &meta); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		e.Phase = model.Phase(phase)
		e.Status = model.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			e.CompletedAt = &t
		}
		e.ErrorKind = errKind.String
		e.Error = errStr.String
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
