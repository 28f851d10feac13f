package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var resultCols = []string{"exchange_product_id", "date", "count", "created_on", "updated_on"}

func resultsUpsert() UpsertConfig {
	return UpsertConfig{
		Table:        "spimex_trading_results",
		Columns:      resultCols,
		ConflictKeys: []string{"exchange_product_id", "date"},
		KeepCols:     []string{"created_on"},
	}
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, resultsUpsert(), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*UpsertConfig)
		wantErr string
	}{
		{"no table", func(c *UpsertConfig) { c.Table = "" }, "no table specified"},
		{"no columns", func(c *UpsertConfig) { c.Columns = nil }, "no columns specified"},
		{"no keys", func(c *UpsertConfig) { c.ConflictKeys = nil }, "no conflict keys specified"},
		{"unknown key", func(c *UpsertConfig) { c.ConflictKeys = []string{"trade_date"} }, `conflict key "trade_date"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := resultsUpsert()
			tt.mutate(&cfg)
			_, err := BulkUpsert(context.TODO(), nil, cfg, [][]any{{"A1"}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUpsertConfig_UpdateColumns(t *testing.T) {
	assert.Equal(t, []string{"count", "updated_on"}, resultsUpsert().updateColumns())
}

func TestUpsertConfig_InsertSQL(t *testing.T) {
	got := resultsUpsert().insertSQL("_tmp")
	assert.Equal(t,
		`INSERT INTO "spimex_trading_results" ("exchange_product_id", "date", "count", "created_on", "updated_on") `+
			`SELECT "exchange_product_id", "date", "count", "created_on", "updated_on" FROM "_tmp" `+
			`ON CONFLICT ("exchange_product_id", "date") DO UPDATE SET "count" = EXCLUDED."count", "updated_on" = EXCLUDED."updated_on"`,
		got)

	keysOnly := UpsertConfig{Table: "t", Columns: []string{"k"}, ConflictKeys: []string{"k"}}
	assert.Contains(t, keysOnly.insertSQL("_tmp"), `ON CONFLICT ("k") DO NOTHING`)
}

func TestUpsertConfig_IndexSQL(t *testing.T) {
	cfg := resultsUpsert()
	cfg.Table = "market.spimex_trading_results"
	cfg.IndexName = "uq_results"
	assert.Equal(t,
		`CREATE UNIQUE INDEX IF NOT EXISTS "uq_results" ON "market"."spimex_trading_results" ("exchange_product_id", "date")`,
		cfg.indexSQL())
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := resultsUpsert()
	cfg.IndexName = "uq_results"

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE UNIQUE INDEX IF NOT EXISTS "uq_results"`).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_spimex_trading_results"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_spimex_trading_results"}, resultCols).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("exchange_product_id", "date"\) DO UPDATE SET "count" = EXCLUDED."count"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, cfg, [][]any{
		{"A1", "2024-03-05", 1, nil, nil},
		{"A2", "2024-03-05", 2, nil, nil},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_MergeErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_spimex_trading_results"}, resultCols).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("no unique or exclusion constraint"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, resultsUpsert(), [][]any{{"A1", "2024-03-05", 1, nil, nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge into spimex_trading_results")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTx_IndexErrorStops(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := resultsUpsert()
	cfg.IndexName = "uq_results"

	mock.ExpectBegin()
	mock.ExpectExec("CREATE UNIQUE INDEX").WillReturnError(errors.New("could not create unique index"))
	mock.ExpectRollback()

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	_, err = UpsertTx(context.Background(), tx, cfg, [][]any{{"A1", "2024-03-05", 1, nil, nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure index uq_results")
	require.NoError(t, tx.Rollback(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"market.spimex_runs", `"market"."spimex_runs"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestTempTableName(t *testing.T) {
	assert.Equal(t, "_tmp_upsert_market_spimex_runs", tempTableName("market.spimex_runs"))
}
