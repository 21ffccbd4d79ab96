package marketdata

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the price store
	"github.com/rs/zerolog"
)

// OpenPriceDB opens the price store database. The price store is kept on its
// own connection and driver so bulk price writes never contend with the
// application state database.
func OpenPriceDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create price store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open price store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping price store: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return db, nil
}

// PriceRepository stores daily price bars per symbol.
type PriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(db *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("repo", "prices").Logger(),
		now: time.Now,
	}
}

// EnsureSchema creates the price_history table if it does not exist.
func (r *PriceRepository) EnsureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS price_history (
			symbol    TEXT NOT NULL,
			date      TEXT NOT NULL,
			close     REAL NOT NULL,
			adj_close REAL NOT NULL,
			PRIMARY KEY (symbol, date)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create price_history table: %w", err)
	}
	return nil
}

// History returns up to days calendar days of bars for a symbol, oldest
// first.
func (r *PriceRepository) History(symbol string, days int) ([]PriceRow, error) {
	cutoff := r.now().AddDate(0, 0, -days).Format("2006-01-02")

	rows, err := r.db.Query(`
		SELECT date, close, adj_close FROM price_history
		WHERE symbol = ? AND date >= ?
		ORDER BY date ASC
	`, symbol, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []PriceRow
	for rows.Next() {
		var p PriceRow
		if err := rows.Scan(&p.Date, &p.Close, &p.AdjClose); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price rows: %w", err)
	}
	return out, nil
}

// UpsertBars writes a batch of bars for one symbol in a single transaction.
func (r *PriceRepository) UpsertBars(symbol string, bars []PriceRow) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO price_history (symbol, date, close, adj_close)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(symbol, b.Date, b.Close, b.AdjClose); err != nil {
			return fmt.Errorf("failed to upsert bar %s/%s: %w", symbol, b.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Price bars stored")
	return nil
}

// LatestDate returns the newest stored date for a symbol, or "" when the
// symbol is absent.
func (r *PriceRepository) LatestDate(symbol string) (string, error) {
	var latest sql.NullString
	err := r.db.QueryRow("SELECT MAX(date) FROM price_history WHERE symbol = ?", symbol).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("failed to query latest date for %s: %w", symbol, err)
	}
	if !latest.Valid {
		return "", nil
	}
	return latest.String, nil
}

// Symbols returns every symbol present in the store.
func (r *PriceRepository) Symbols() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT symbol FROM price_history ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
