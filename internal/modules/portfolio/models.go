package portfolio

// Position is one current holding as synced from the broker bridge.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	MarketValue float64 `json:"market_value"`
	AvgCost     float64 `json:"avg_cost"`
	Sector      string  `json:"sector,omitempty"`
	Country     string  `json:"country,omitempty"`
	Currency    string  `json:"currency"`
	LastUpdated string  `json:"last_updated,omitempty"` // ISO datetime
}

// SectorExposure aggregates market value by sector.
type SectorExposure struct {
	Sector     string  `json:"sector"`
	Value      float64 `json:"value"`
	WeightPct  float64 `json:"weight_pct"`
	NumHolding int     `json:"num_holdings"`
}

// Summary is the portfolio-level exposure snapshot.
type Summary struct {
	TotalValue    float64          `json:"total_value"`
	GrossExposure float64          `json:"gross_exposure"`
	NetExposure   float64          `json:"net_exposure"`
	NumPositions  int              `json:"num_positions"`
	NumLong       int              `json:"num_long"`
	NumShort      int              `json:"num_short"`
	BySector      []SectorExposure `json:"by_sector"`
}
