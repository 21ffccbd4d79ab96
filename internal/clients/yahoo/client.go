package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	chartURL = "https://query1.finance.yahoo.com/v8/finance/chart/"
	quoteURL = "https://query1.finance.yahoo.com/v7/finance/quote"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

// Client fetches price history and security metadata from Yahoo Finance.
type Client struct {
	client *http.Client
	log    zerolog.Logger
}

// NewClient creates a new Yahoo Finance client.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "yahoo").Logger(),
	}
}

// rangeForDays maps a calendar-day horizon to the coarsest chart-API range
// that covers it.
func rangeForDays(days int) string {
	switch {
	case days <= 5:
		return "5d"
	case days <= 30:
		return "1mo"
	case days <= 92:
		return "3mo"
	case days <= 185:
		return "6mo"
	case days <= 366:
		return "1y"
	case days <= 732:
		return "2y"
	case days <= 1830:
		return "5y"
	default:
		return "10y"
	}
}

// DailyHistory fetches up to days calendar days of daily bars for a symbol.
// Null bars (exchange holidays, Yahoo data gaps) are skipped.
func (c *Client) DailyHistory(ctx context.Context, symbol string, days int) ([]HistoricalPrice, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("range", rangeForDays(days))
	reqURL := chartURL + url.QueryEscape(symbol) + "?" + params.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", symbol, err)
	}

	var result struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Open   []float64 `json:"open"`
						High   []float64 `json:"high"`
						Low    []float64 `json:"low"`
						Close  []float64 `json:"close"`
						Volume []int64   `json:"volume"`
					} `json:"quote"`
					AdjClose []struct {
						AdjClose []float64 `json:"adjclose"`
					} `json:"adjclose"`
				} `json:"indicators"`
			} `json:"result"`
			Error interface{} `json:"error"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse chart response: %w", err)
	}
	if result.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error for %s: %v", symbol, result.Chart.Error)
	}
	if len(result.Chart.Result) == 0 || len(result.Chart.Result[0].Indicators.Quote) == 0 {
		c.log.Warn().Str("symbol", symbol).Msg("No historical data returned")
		return []HistoricalPrice{}, nil
	}

	chart := result.Chart.Result[0]
	quote := chart.Indicators.Quote[0]

	var adjClose []float64
	if len(chart.Indicators.AdjClose) > 0 {
		adjClose = chart.Indicators.AdjClose[0].AdjClose
	}

	prices := make([]HistoricalPrice, 0, len(chart.Timestamp))
	for i := range chart.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == 0 {
			continue
		}

		bar := HistoricalPrice{
			Date:     time.Unix(chart.Timestamp[i], 0).UTC(),
			Close:    quote.Close[i],
			AdjClose: quote.Close[i],
		}
		if i < len(quote.Open) {
			bar.Open = quote.Open[i]
		}
		if i < len(quote.High) {
			bar.High = quote.High[i]
		}
		if i < len(quote.Low) {
			bar.Low = quote.Low[i]
		}
		if i < len(quote.Volume) {
			bar.Volume = quote.Volume[i]
		}
		if i < len(adjClose) && adjClose[i] != 0 {
			bar.AdjClose = adjClose[i]
		}

		prices = append(prices, bar)
	}

	c.log.Debug().
		Str("symbol", symbol).
		Int("days", days).
		Int("count", len(prices)).
		Msg("Fetched daily history")

	return prices, nil
}

// Profile fetches currency, sector, country and exchange for a symbol.
func (c *Client) Profile(ctx context.Context, symbol string) (*SecurityProfile, error) {
	params := url.Values{}
	params.Add("symbols", symbol)
	params.Add("fields", "symbol,currency,regularMarketPrice,sector,industry,country,fullExchangeName")
	reqURL := quoteURL + "?" + params.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile for %s: %w", symbol, err)
	}

	var result struct {
		QuoteResponse struct {
			Result []struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				Sector             string  `json:"sector"`
				Country            string  `json:"country"`
				FullExchangeName   string  `json:"fullExchangeName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"result"`
			Error interface{} `json:"error"`
		} `json:"quoteResponse"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}
	if result.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("quote API error for %s: %v", symbol, result.QuoteResponse.Error)
	}
	if len(result.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("no quote data returned for %s", symbol)
	}

	q := result.QuoteResponse.Result[0]
	return &SecurityProfile{
		Symbol:   symbol,
		Currency: q.Currency,
		Sector:   q.Sector,
		Country:  q.Country,
		Exchange: q.FullExchangeName,
		Price:    q.RegularMarketPrice,
	}, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
