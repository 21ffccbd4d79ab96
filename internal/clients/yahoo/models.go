package yahoo

import "time"

// HistoricalPrice is one daily OHLCV bar with its split/dividend-adjusted
// close.
type HistoricalPrice struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
}

// SecurityProfile carries the classification metadata the risk engine needs
// per symbol.
type SecurityProfile struct {
	Symbol   string  `json:"symbol"`
	Currency string  `json:"currency"`
	Sector   string  `json:"sector,omitempty"`
	Country  string  `json:"country,omitempty"`
	Exchange string  `json:"exchange,omitempty"`
	Price    float64 `json:"price,omitempty"`
}
