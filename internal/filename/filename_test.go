package filename

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	d := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		href string
		want string
	}{
		{"relative", "/upload/reports/oil_xls/oil_xls_20240305162000.xls?r=4521", "2024-03-05_oil_xls_20240305162000.xls"},
		{"absolute", "https://spimex.com/upload/reports/oil_xls/oil_xls_20240305.xls", "2024-03-05_oil_xls_20240305.xls"},
		{"fragment", "oil_xls_20240305.xls#top", "2024-03-05_oil_xls_20240305.xls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.href, d))
		})
	}
}

func TestDecode(t *testing.T) {
	d, ok := Decode("/data/2023-11-30_oil_xls_20231130162000.xls")
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, time.November, 30, 0, 0, 0, 0, time.UTC), d)
}

func TestDecode_NoDate(t *testing.T) {
	_, ok := Decode("oil_xls_20231130.xls")
	assert.False(t, ok)
}

func TestDecode_SkipsInvalidCalendarDate(t *testing.T) {
	d, ok := Decode("2023-13-45_copy_of_2023-02-01.xls")
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, time.February, 1, 0, 0, 0, 0, time.UTC), d)
}

func TestRoundTrip(t *testing.T) {
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2000; i += 7 {
		d := start.AddDate(0, 0, i)
		href := "/upload/reports/oil_xls/oil_xls_" + d.Format("20060102") + "162000.xls"
		got, ok := Decode(Encode(href, d))
		require.True(t, ok, href)
		assert.True(t, d.Equal(got), "round trip of %s gave %s", d, got)
	}
}
