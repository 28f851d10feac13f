// Package normalize turns bulletin worksheets into canonical trading
// records. It is pure apart from debug logging.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/spimex-sync/internal/fetcher"
	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
)

// HeaderRow is the 0-based row index of the column titles in every sheet.
const HeaderRow = 6

var productIDRe = regexp.MustCompile(`^[A-Za-z0-9]`)

// Normalize maps every sheet independently and concatenates the surviving
// rows in sheet order then row order. Sheets without a product id or count
// column are skipped. Every record gets TradeDate = fileDate and
// CreatedOn = UpdatedOn = now.
func Normalize(sheets []fetcher.Sheet, fileDate, now time.Time, table HeaderTable) []model.TradingResult {
	var out []model.TradingResult
	for _, sh := range sheets {
		out = append(out, normalizeSheet(sh, fileDate, now, table)...)
	}
	return out
}

// NormalizeBytes decodes workbook bytes and normalizes every sheet. Decode
// failures are parse-kind errors.
func NormalizeBytes(name string, data []byte, fileDate, now time.Time, table HeaderTable) ([]model.TradingResult, error) {
	sheets, err := fetcher.ReadWorkbook(name, data)
	if err != nil {
		return nil, resilience.WithKind(resilience.KindParse, err)
	}
	return Normalize(sheets, fileDate, now, table), nil
}

// columns maps canonical fields to column indexes. When several columns
// resolve to the same field the rightmost one wins.
func columns(header []string, table HeaderTable) map[Field]int {
	cols := make(map[Field]int)
	for i, h := range header {
		if f, ok := table.Resolve(h); ok {
			cols[f] = i
		}
	}
	return cols
}

func normalizeSheet(sh fetcher.Sheet, fileDate, now time.Time, table HeaderTable) []model.TradingResult {
	log := zap.L().With(zap.String("component", "normalize"), zap.String("sheet", sh.Name))

	if len(sh.Rows) <= HeaderRow {
		log.Debug("sheet too short, skipping", zap.Int("rows", len(sh.Rows)))
		return nil
	}

	cols := columns(sh.Rows[HeaderRow], table)
	idCol, hasID := cols[FieldProductID]
	countCol, hasCount := cols[FieldCount]
	if !hasID || !hasCount {
		log.Debug("sheet lacks required columns, skipping",
			zap.Bool("has_product_id", hasID),
			zap.Bool("has_count", hasCount),
		)
		return nil
	}

	var out []model.TradingResult
	for _, row := range sh.Rows[HeaderRow+1:] {
		id := strings.TrimSpace(CleanText(cell(row, idCol)))
		if !productIDRe.MatchString(id) {
			continue
		}
		count := ParseCount(cell(row, countCol))
		if count <= 0 {
			continue
		}

		rec := model.NewTradingResult(id)
		rec.Count = count
		if c, ok := cols[FieldProductName]; ok {
			rec.ExchangeProductName = CleanText(cell(row, c))
		}
		if c, ok := cols[FieldBasisName]; ok {
			rec.DeliveryBasisName = CleanText(cell(row, c))
		}
		if c, ok := cols[FieldVolume]; ok {
			rec.Volume = ParseDecimal(cell(row, c))
		}
		if c, ok := cols[FieldTotal]; ok {
			rec.Total = ParseDecimal(cell(row, c))
		}
		rec.TradeDate = fileDate
		rec.CreatedOn = now
		rec.UpdatedOn = now
		out = append(out, rec)
	}

	log.Debug("sheet normalized", zap.Int("records", len(out)))
	return out
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
