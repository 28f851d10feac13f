package fetcher

import (
	"bytes"

	"github.com/extrame/xls"
	"github.com/rotisserie/eris"
)

// ReadXLS decodes a legacy BIFF (.xls) workbook and returns every sheet.
// Missing rows come back as nil so row indexes match the sheet.
func ReadXLS(data []byte) (sheets []Sheet, err error) {
	// The BIFF decoder panics on some truncated streams.
	defer func() {
		if r := recover(); r != nil {
			sheets = nil
			err = eris.Errorf("xls: malformed workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, eris.Wrap(err, "xls: open")
	}
	if wb == nil {
		return nil, eris.New("xls: open: empty workbook")
	}

	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		rows := make([][]string, 0, int(ws.MaxRow)+1)
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, row.LastCol())
			for c := range cells {
				cells[c] = row.Col(c)
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, Sheet{Name: ws.Name, Rows: rows})
	}
	if len(sheets) == 0 {
		return nil, eris.New("xls: workbook has no sheets")
	}
	return sheets, nil
}
