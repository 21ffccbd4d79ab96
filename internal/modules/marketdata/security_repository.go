package marketdata

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/riskdesk/internal/modules/risk"
)

// SecurityRepository stores currency/listing/classification metadata per
// symbol.
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security metadata repository.
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "securities").Logger(),
	}
}

// EnsureSchema creates the security_info table if it does not exist.
func (r *SecurityRepository) EnsureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS security_info (
			symbol        TEXT PRIMARY KEY,
			currency      TEXT NOT NULL DEFAULT 'USD',
			is_usd_listed INTEGER NOT NULL DEFAULT 1,
			fx_pair       TEXT,
			sector        TEXT,
			country       TEXT,
			exchange      TEXT,
			updated_at    TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create security_info table: %w", err)
	}
	return nil
}

// Get returns one security row, or nil when unknown.
func (r *SecurityRepository) Get(symbol string) (*SecurityRow, error) {
	row := r.db.QueryRow(`
		SELECT symbol, currency, is_usd_listed, fx_pair, sector, country, exchange, updated_at
		FROM security_info WHERE symbol = ?
	`, strings.ToUpper(strings.TrimSpace(symbol)))

	sec, err := scanSecurity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query security %s: %w", symbol, err)
	}
	return sec, nil
}

// FxInfoMap returns FX metadata for the given symbols. Unknown symbols are
// simply absent, which downstream treats as USD-listed.
func (r *SecurityRepository) FxInfoMap(symbols []string) (map[string]risk.FxInfo, error) {
	out := make(map[string]risk.FxInfo, len(symbols))
	for _, symbol := range symbols {
		sec, err := r.Get(symbol)
		if err != nil {
			return nil, err
		}
		if sec == nil {
			continue
		}
		out[symbol] = risk.FxInfo{
			Currency:    sec.Currency,
			IsUSDListed: sec.IsUSDListed,
			FxPair:      sec.FxPair,
		}
	}
	return out, nil
}

// Upsert inserts or updates one security row.
func (r *SecurityRepository) Upsert(sec SecurityRow) error {
	sec.Symbol = strings.ToUpper(strings.TrimSpace(sec.Symbol))
	if sec.Currency == "" {
		sec.Currency = "USD"
	}
	if sec.UpdatedAt == "" {
		sec.UpdatedAt = time.Now().Format(time.RFC3339)
	}

	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO security_info
			(symbol, currency, is_usd_listed, fx_pair, sector, country, exchange, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sec.Symbol,
		sec.Currency,
		boolToInt(sec.IsUSDListed),
		nullString(sec.FxPair),
		nullString(sec.Sector),
		nullString(sec.Country),
		nullString(sec.Exchange),
		sec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", sec.Symbol, err)
	}

	r.log.Debug().Str("symbol", sec.Symbol).Str("currency", sec.Currency).Msg("Security info upserted")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSecurity(row rowScanner) (*SecurityRow, error) {
	var sec SecurityRow
	var isUSDListed int
	var fxPair, sector, country, exchange, updatedAt sql.NullString

	err := row.Scan(&sec.Symbol, &sec.Currency, &isUSDListed, &fxPair, &sector, &country, &exchange, &updatedAt)
	if err != nil {
		return nil, err
	}

	sec.IsUSDListed = isUSDListed != 0
	sec.FxPair = fxPair.String
	sec.Sector = sector.String
	sec.Country = country.String
	sec.Exchange = exchange.String
	sec.UpdatedAt = updatedAt.String
	return &sec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}
