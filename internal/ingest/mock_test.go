package ingest

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/store"
)

type mockInserter struct {
	mock.Mock
}

func (m *mockInserter) InsertResults(ctx context.Context, records []model.TradingResult, mode store.InsertMode) (int64, error) {
	args := m.Called(ctx, records, mode)
	return args.Get(0).(int64), args.Error(1)
}

// bulletinXLSX builds a workbook with the header on row 7 and one data row
// per id, each with a count of 1.
func bulletinXLSX(t *testing.T, ids ...string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("TRADE_SUMMARY")
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		sheet.AddRow().AddCell().SetString("Бюллетень")
	}
	header := sheet.AddRow()
	header.AddCell().SetString("Код Инструмента")
	header.AddCell().SetString("Количество Договоров, шт.")
	for _, id := range ids {
		row := sheet.AddRow()
		row.AddCell().SetString(id)
		row.AddCell().SetString("1")
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func writeFile(t *testing.T, fs afero.Fs, path string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
}
