package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Код Инструмента", CleanText("  Код  Инструмента\n"))
	assert.Equal(t, "", CleanText(" \t "))
}

func TestParseCount(t *testing.T) {
	tests := map[string]int64{
		"12":         12,
		" 1 204 ":    1204,
		"1\u00a0204": 1204,
		"3,0":        3,
		"7.9":        7,
		"-":          0,
		"":           0,
		"n/a":        0,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseCount(in), in)
	}
}

func TestParseDecimal(t *testing.T) {
	d := ParseDecimal("3 864 000,50")
	assert.True(t, d.Valid)
	assert.Equal(t, "3864000.5", d.Decimal.String())

	assert.False(t, ParseDecimal("-").Valid)
	assert.False(t, ParseDecimal("").Valid)
}
