package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func countResults(t *testing.T, st *SQLiteStore) int {
	t.Helper()
	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM spimex_trading_results`).Scan(&n))
	return n
}

func TestSQLite_InsertResults(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.InsertResults(context.Background(), sampleRecords(), InsertAppend)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var (
		oil, basis, typ, date string
		total                 *string
		count                 int64
	)
	require.NoError(t, st.db.QueryRow(
		`SELECT oil_id, delivery_basis_id, delivery_type_id, date, total, count
		 FROM spimex_trading_results WHERE exchange_product_id = 'A101BS1'`,
	).Scan(&oil, &basis, &typ, &date, &total, &count))

	assert.Equal(t, "A101", oil)
	assert.Equal(t, "BS1", basis)
	assert.Equal(t, "1", typ)
	assert.Equal(t, "2024-03-05", date)
	require.NotNil(t, total)
	assert.True(t, decimal.RequireFromString("150000.5").Equal(decimal.RequireFromString(*total)))
	assert.Equal(t, int64(3), count)
}

func TestSQLite_InsertResults_NotNullViolationRollsBackBatch(t *testing.T) {
	st := newTestSQLiteStore(t)

	records := sampleRecords()
	bad := model.NewTradingResult("")
	bad.Count = 1
	records = append(records[:1], bad, records[1])

	_, err := st.InsertResults(context.Background(), records, InsertAppend)
	require.Error(t, err)
	assert.Equal(t, resilience.KindStorage, resilience.KindOf(err))
	assert.Equal(t, 0, countResults(t, st))
}

func TestSQLite_InsertResults_AppendKeepsDuplicates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertResults(ctx, sampleRecords(), InsertAppend)
	require.NoError(t, err)
	_, err = st.InsertResults(ctx, sampleRecords(), InsertAppend)
	require.NoError(t, err)
	assert.Equal(t, 4, countResults(t, st))
}

func TestSQLite_InsertResults_UpsertReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertResults(ctx, sampleRecords(), InsertUpsert)
	require.NoError(t, err)

	again := sampleRecords()
	again[0].Count = 9
	_, err = st.InsertResults(ctx, again, InsertUpsert)
	require.NoError(t, err)

	assert.Equal(t, 2, countResults(t, st))
	var count int64
	require.NoError(t, st.db.QueryRow(
		`SELECT count FROM spimex_trading_results WHERE exchange_product_id = 'A101BS1'`,
	).Scan(&count))
	assert.Equal(t, int64(9), count)
}

func TestSQLite_InsertResults_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.InsertResults(context.Background(), nil, InsertAppend)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_RunLog(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	okID, err := st.StartRun(ctx, model.PhaseIngest)
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, okID, RunResult{Rows: 12, Metadata: map[string]any{"files": 2}}))

	badID, err := st.StartRun(ctx, model.PhaseHarvest)
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, badID, resilience.KindNetwork, "listing unavailable"))

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]model.RunEntry{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	assert.Equal(t, model.RunStatusComplete, byID[okID].Status)
	assert.Equal(t, int64(12), byID[okID].Rows)
	assert.EqualValues(t, 2, byID[okID].Metadata["files"])
	require.NotNil(t, byID[okID].CompletedAt)

	assert.Equal(t, model.RunStatusFailed, byID[badID].Status)
	assert.Equal(t, "network", byID[badID].ErrorKind)
	assert.Equal(t, "listing unavailable", byID[badID].Error)

	harvest, err := st.ListRuns(ctx, RunFilter{Phase: model.PhaseHarvest})
	require.NoError(t, err)
	require.Len(t, harvest, 1)
	assert.Equal(t, badID, harvest[0].ID)
}

func TestSQLite_CompleteRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.CompleteRun(context.Background(), "nope", RunResult{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}
