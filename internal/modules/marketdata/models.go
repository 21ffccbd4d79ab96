package marketdata

// PriceRow is one stored daily observation. Dates are YYYY-MM-DD strings.
type PriceRow struct {
	Date     string  `json:"date"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close"`
}

// SecurityRow is the stored classification metadata for one symbol.
type SecurityRow struct {
	Symbol      string `json:"symbol"`
	Currency    string `json:"currency"`
	IsUSDListed bool   `json:"is_usd_listed"`
	FxPair      string `json:"fx_pair,omitempty"`
	Sector      string `json:"sector,omitempty"`
	Country     string `json:"country,omitempty"`
	Exchange    string `json:"exchange,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}
