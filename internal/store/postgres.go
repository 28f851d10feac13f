package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/spimex-sync/internal/db"
	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InsertResults loads records in one transaction. Append mode uses COPY
// inside the transaction, so any bad row rolls back the whole batch.
func (s *PostgresStore) InsertResults(ctx context.Context, records []model.TradingResult, mode InsertMode) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	if mode == InsertUpsert {
		return s.upsertResults(ctx, records)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, storageErr(err, "postgres: begin insert tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.CopyFrom(ctx, tx, resultsTable, resultColumns, resultRows(records))
	if err != nil {
		return 0, storageErr(err, "postgres: insert results")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storageErr(err, "postgres: commit insert tx")
	}
	return n, nil
}

func (s *PostgresStore) upsertResults(ctx context.Context, records []model.TradingResult) (int64, error) {
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        resultsTable,
		Columns:      resultColumns,
		ConflictKeys: resultConflictKeys,
		KeepCols:     []string{"created_on"},
		IndexName:    "uq_spimex_trading_results_product_date",
	}, resultRows(dedupeLastWins(records)))
	if err != nil {
		return 0, storageErr(err, "postgres: upsert results")
	}
	return n, nil
}

func resultRows(records []model.TradingResult) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			nullText(r.ExchangeProductID),
			nullText(r.ExchangeProductName),
			nullText(r.OilID),
			nullText(r.DeliveryBasisID),
			nullText(r.DeliveryBasisName),
			nullText(r.DeliveryTypeID),
			numeric(r.Volume),
			numeric(r.Total),
			r.Count,
			pgtype.Date{Time: r.TradeDate, Valid: !r.TradeDate.IsZero()},
			r.CreatedOn,
			r.UpdatedOn,
		}
	}
	return rows
}

func numeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}

func storageErr(err error, msg string) error {
	return resilience.WithKind(resilience.KindStorage, eris.Wrap(err, msg))
}

// --- Run log ---

func (s *PostgresStore) StartRun(ctx context.Context, phase model.Phase) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spimex_runs (id, phase, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, string(phase), string(model.RunStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start %s run", phase)
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, result RunResult) error {
	var metaJSON []byte
	if result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run metadata")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE spimex_runs
		 SET status = $1, completed_at = $2, rows_affected = $3, metadata = $4
		 WHERE id = $5`,
		string(model.RunStatusComplete), time.Now().UTC(), result.Rows, metaJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, kind resilience.Kind, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE spimex_runs
		 SET status = $1, completed_at = $2, error_kind = $3, error = $4
		 WHERE id = $5`,
		string(model.RunStatusFailed), time.Now().UTC(), string(kind), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var phase *string
	if filter.Phase != "" {
		p := string(filter.Phase)
		phase = &p
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, phase, status, started_at, completed_at, rows_affected, error_kind, error, metadata
		 FROM spimex_runs
		 WHERE ($1::text IS NULL OR phase = $1)
		 ORDER BY started_at DESC
		 LIMIT $2`,
		phase, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var entries []model.RunEntry
	for rows.Next() {
		var (
			e         model.RunEntry
			phaseStr  string
			statusStr string
			errKind   *string
			errStr    *string
			metaJSON  []byte
		)
		if err := rows.Scan(&e.ID, &phaseStr, &statusStr, &e.StartedAt, &e.CompletedAt,
			&e.Rows, &errKind, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		e.Phase = model.Phase(phaseStr)
		e.Status = model.RunStatus(statusStr)
		if errKind != nil {
			e.ErrorKind = *errKind
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
