package normalize

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Field is a canonical record column.
type Field string

const (
	FieldProductID   Field = "exchange_product_id"
	FieldProductName Field = "exchange_product_name"
	FieldBasisName   Field = "delivery_basis_name"
	FieldVolume      Field = "volume"
	FieldTotal       Field = "total"
	FieldCount       Field = "count"
)

var knownFields = map[Field]bool{
	FieldProductID:   true,
	FieldProductName: true,
	FieldBasisName:   true,
	FieldVolume:      true,
	FieldTotal:       true,
	FieldCount:       true,
}

// HeaderRule maps any header containing Fragment (case-insensitive) to Field.
type HeaderRule struct {
	Fragment string `yaml:"fragment"`
	Field    Field  `yaml:"field"`
}

// HeaderTable is an ordered rule list. The first matching rule wins, so
// more specific fragments must come first.
type HeaderTable []HeaderRule

// DefaultHeaderTable returns the mapping for the exchange's bulletin layouts.
// "Обьем" with a soft sign is a misspelling found in older bulletins.
func DefaultHeaderTable() HeaderTable {
	return HeaderTable{
		{Fragment: "Код Инструмента", Field: FieldProductID},
		{Fragment: "Наименование Инструмента", Field: FieldProductName},
		{Fragment: "Базис поставки", Field: FieldBasisName},
		{Fragment: "Объем Договоров в единицах измерения", Field: FieldVolume},
		{Fragment: "Обьем Договоров", Field: FieldTotal},
		{Fragment: "Объем Договоров", Field: FieldTotal},
		{Fragment: "Количество Договоров", Field: FieldCount},
	}
}

// Resolve returns the canonical field for a raw header cell.
func (t HeaderTable) Resolve(header string) (Field, bool) {
	h := strings.ToLower(CleanText(header))
	if h == "" {
		return "", false
	}
	for _, r := range t {
		if strings.Contains(h, strings.ToLower(CleanText(r.Fragment))) {
			return r.Field, true
		}
	}
	return "", false
}

// Validate checks that every rule names a known field and a fragment.
func (t HeaderTable) Validate() error {
	if len(t) == 0 {
		return eris.New("normalize: header table is empty")
	}
	for i, r := range t {
		if strings.TrimSpace(r.Fragment) == "" {
			return eris.Errorf("normalize: header rule %d has an empty fragment", i)
		}
		if !knownFields[r.Field] {
			return eris.Errorf("normalize: header rule %d maps to unknown field %q", i, r.Field)
		}
	}
	return nil
}

// LoadHeaderTable reads a header table from a YAML file with a top-level
// "headers" list. An empty path returns the default table.
func LoadHeaderTable(path string) (HeaderTable, error) {
	if path == "" {
		return DefaultHeaderTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read header map %s", path)
	}

	var wrapper struct {
		Headers HeaderTable `yaml:"headers"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "normalize: parse header map")
	}
	if err := wrapper.Headers.Validate(); err != nil {
		return nil, err
	}
	return wrapper.Headers, nil
}
