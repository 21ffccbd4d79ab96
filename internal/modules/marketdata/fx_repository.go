package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FxRepository stores daily FX rates in USD-per-unit-foreign-currency
// orientation, e.g. pair "EURUSD" holds USD per euro.
type FxRepository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewFxRepository creates a new FX rate repository.
func NewFxRepository(db *sql.DB, log zerolog.Logger) *FxRepository {
	return &FxRepository{
		db:  db,
		log: log.With().Str("repo", "fx_rates").Logger(),
		now: time.Now,
	}
}

// EnsureSchema creates the fx_rates_daily table if it does not exist.
func (r *FxRepository) EnsureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS fx_rates_daily (
			pair      TEXT NOT NULL,
			date      TEXT NOT NULL,
			close     REAL NOT NULL,
			adj_close REAL NOT NULL,
			PRIMARY KEY (pair, date)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create fx_rates_daily table: %w", err)
	}
	return nil
}

// History returns up to days calendar days of rates for a pair, oldest
// first.
func (r *FxRepository) History(pair string, days int) ([]PriceRow, error) {
	cutoff := r.now().AddDate(0, 0, -days).Format("2006-01-02")

	rows, err := r.db.Query(`
		SELECT date, close, adj_close FROM fx_rates_daily
		WHERE pair = ? AND date >= ?
		ORDER BY date ASC
	`, pair, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query fx history for %s: %w", pair, err)
	}
	defer rows.Close()

	var out []PriceRow
	for rows.Next() {
		var p PriceRow
		if err := rows.Scan(&p.Date, &p.Close, &p.AdjClose); err != nil {
			return nil, fmt.Errorf("failed to scan fx row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fx rows: %w", err)
	}
	return out, nil
}

// UpsertRates writes a batch of rates for one pair in a single transaction.
func (r *FxRepository) UpsertRates(pair string, rates []PriceRow) error {
	if len(rates) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO fx_rates_daily (pair, date, close, adj_close)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rate := range rates {
		if _, err := stmt.Exec(pair, rate.Date, rate.Close, rate.AdjClose); err != nil {
			return fmt.Errorf("failed to upsert rate %s/%s: %w", pair, rate.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().Str("pair", pair).Int("rates", len(rates)).Msg("FX rates stored")
	return nil
}
