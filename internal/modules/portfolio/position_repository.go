package portfolio

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PositionRepository stores the current portfolio in the positions_current
// table. The table always reflects the latest broker sync: a sync replaces
// the whole set atomically.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

// EnsureSchema creates the positions_current table if it does not exist.
func (r *PositionRepository) EnsureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS positions_current (
			symbol       TEXT PRIMARY KEY,
			quantity     REAL NOT NULL,
			market_value REAL NOT NULL,
			avg_cost     REAL NOT NULL DEFAULT 0,
			sector       TEXT,
			country      TEXT,
			currency     TEXT NOT NULL DEFAULT 'USD',
			last_updated TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create positions_current table: %w", err)
	}
	return nil
}

// GetAll returns every current position.
func (r *PositionRepository) GetAll() ([]Position, error) {
	rows, err := r.db.Query(`
		SELECT symbol, quantity, market_value, avg_cost, sector, country, currency, last_updated
		FROM positions_current
		ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// GetBySymbol returns one position, or nil when absent.
func (r *PositionRepository) GetBySymbol(symbol string) (*Position, error) {
	rows, err := r.db.Query(`
		SELECT symbol, quantity, market_value, avg_cost, sector, country, currency, last_updated
		FROM positions_current WHERE symbol = ?
	`, strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	pos, err := scanPosition(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}
	return &pos, nil
}

// Upsert inserts or updates one position.
func (r *PositionRepository) Upsert(pos Position) error {
	pos.Symbol = strings.ToUpper(strings.TrimSpace(pos.Symbol))
	if pos.Currency == "" {
		pos.Currency = "USD"
	}
	if pos.LastUpdated == "" {
		pos.LastUpdated = time.Now().Format(time.RFC3339)
	}

	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO positions_current
			(symbol, quantity, market_value, avg_cost, sector, country, currency, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		pos.Symbol, pos.Quantity, pos.MarketValue, pos.AvgCost,
		nullString(pos.Sector), nullString(pos.Country), pos.Currency, pos.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	r.log.Debug().Str("symbol", pos.Symbol).Float64("quantity", pos.Quantity).Msg("Position upserted")
	return nil
}

// ReplaceAll swaps the whole position set in one transaction. Used by the
// broker sync so readers never observe a half-written portfolio.
func (r *PositionRepository) ReplaceAll(positions []Position) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM positions_current"); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO positions_current
			(symbol, quantity, market_value, avg_cost, sector, country, currency, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Format(time.RFC3339)
	for _, pos := range positions {
		currency := pos.Currency
		if currency == "" {
			currency = "USD"
		}
		lastUpdated := pos.LastUpdated
		if lastUpdated == "" {
			lastUpdated = now
		}
		_, err := stmt.Exec(
			strings.ToUpper(strings.TrimSpace(pos.Symbol)),
			pos.Quantity, pos.MarketValue, pos.AvgCost,
			nullString(pos.Sector), nullString(pos.Country), currency, lastUpdated,
		)
		if err != nil {
			return fmt.Errorf("failed to insert position %s: %w", pos.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().Int("positions", len(positions)).Msg("Portfolio replaced")
	return nil
}

// GetCount returns the number of current positions.
func (r *PositionRepository) GetCount() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM positions_current").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}
	return count, nil
}

// GetTotalValue returns the summed market value.
func (r *PositionRepository) GetTotalValue() (float64, error) {
	var total float64
	err := r.db.QueryRow("SELECT COALESCE(SUM(market_value), 0) FROM positions_current").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum market value: %w", err)
	}
	return total, nil
}

func scanPosition(rows *sql.Rows) (Position, error) {
	var pos Position
	var sector, country, lastUpdated sql.NullString

	err := rows.Scan(
		&pos.Symbol,
		&pos.Quantity,
		&pos.MarketValue,
		&pos.AvgCost,
		&sector,
		&country,
		&pos.Currency,
		&lastUpdated,
	)
	if err != nil {
		return pos, err
	}

	pos.Sector = sector.String
	pos.Country = country.String
	pos.LastUpdated = lastUpdated.String
	if pos.Currency == "" {
		pos.Currency = "USD"
	}
	return pos, nil
}

func nullString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}
