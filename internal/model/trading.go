package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DownloadTask is one spreadsheet link accepted by discovery.
type DownloadTask struct {
	RemoteURL string    `json:"remote_url"`
	LocalPath string    `json:"local_path"`
	FileDate  time.Time `json:"file_date"`
}

// TradingResult is one normalized row of a daily trading-results bulletin.
// OilID, DeliveryBasisID and DeliveryTypeID are always slices of
// ExchangeProductID; use NewTradingResult rather than setting them by hand.
type TradingResult struct {
	ExchangeProductID   string              `json:"exchange_product_id"`
	ExchangeProductName string              `json:"exchange_product_name"`
	DeliveryBasisName   string              `json:"delivery_basis_name"`
	Count               int64               `json:"count"`
	Volume              decimal.NullDecimal `json:"volume"`
	Total               decimal.NullDecimal `json:"total"`
	OilID               string              `json:"oil_id"`
	DeliveryBasisID     string              `json:"delivery_basis_id"`
	DeliveryTypeID      string              `json:"delivery_type_id"`
	TradeDate           time.Time           `json:"date"`
	CreatedOn           time.Time           `json:"created_on"`
	UpdatedOn           time.Time           `json:"updated_on"`
}

// NewTradingResult builds a record for productID and fills the derived
// identifier fields.
func NewTradingResult(productID string) TradingResult {
	oil, basis, typ := SplitProductID(productID)
	return TradingResult{
		ExchangeProductID: productID,
		OilID:             oil,
		DeliveryBasisID:   basis,
		DeliveryTypeID:    typ,
	}
}

// SplitProductID returns the [0:4], [4:7] and last-character slices of an
// exchange product code such as "A101BS1". Short codes yield shorter or
// empty parts instead of panicking.
func SplitProductID(id string) (oil, basis, typ string) {
	r := []rune(id)
	oil = string(r[:min(4, len(r))])
	if len(r) > 4 {
		basis = string(r[4:min(7, len(r))])
	}
	if len(r) > 0 {
		typ = string(r[len(r)-1])
	}
	return oil, basis, typ
}
