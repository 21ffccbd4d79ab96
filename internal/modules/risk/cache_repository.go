package risk

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ResultTypeRiskPack is the cache row type for full risk bundles.
const ResultTypeRiskPack = "risk_pack"

// CacheRepository persists computed risk packs. One row per
// (result_type, asof_date, window, method, portfolio_hash); concurrent
// requests for the same key converge on a single row via the unique index.
type CacheRepository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewCacheRepository creates a new risk result cache repository.
func NewCacheRepository(db *sql.DB, log zerolog.Logger) *CacheRepository {
	return &CacheRepository{
		db:  db,
		log: log.With().Str("repo", "risk_cache").Logger(),
		now: time.Now,
	}
}

// EnsureSchema creates the risk_results table if it does not exist.
func (r *CacheRepository) EnsureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS risk_results (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			result_type    TEXT NOT NULL,
			asof_date      TEXT NOT NULL,
			window         INTEGER NOT NULL,
			method         TEXT NOT NULL,
			portfolio_hash TEXT NOT NULL,
			result_json    TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			UNIQUE(asof_date, window, method, portfolio_hash, result_type)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create risk_results table: %w", err)
	}
	return nil
}

// Get returns the cached pack for a key, or (nil, nil) on a miss.
func (r *CacheRepository) Get(resultType, asofDate string, window int, method, portfolioHash string) (*RiskPack, error) {
	var payload string
	err := r.db.QueryRow(`
		SELECT result_json FROM risk_results
		WHERE result_type = ? AND asof_date = ? AND window = ? AND method = ? AND portfolio_hash = ?
	`, resultType, asofDate, window, method, portfolioHash).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query risk result: %w", err)
	}

	var pack RiskPack
	if err := json.Unmarshal([]byte(payload), &pack); err != nil {
		return nil, fmt.Errorf("failed to decode cached risk result: %w", err)
	}
	return &pack, nil
}

// Put upserts a pack under its key. The write is atomic: two concurrent
// computations for the same key leave exactly one row, last writer wins.
func (r *CacheRepository) Put(resultType, asofDate string, window int, method, portfolioHash string, pack *RiskPack) error {
	payload, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("failed to encode risk result: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO risk_results
			(result_type, asof_date, window, method, portfolio_hash, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asof_date, window, method, portfolio_hash, result_type)
		DO UPDATE SET result_json = excluded.result_json, created_at = excluded.created_at
	`, resultType, asofDate, window, method, portfolioHash, string(payload), r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert risk result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().
		Str("asof_date", asofDate).
		Int("window", window).
		Str("method", method).
		Str("portfolio_hash", portfolioHash).
		Msg("Risk result cached")
	return nil
}

// Purge deletes cache rows older than the retention period.
func (r *CacheRepository) Purge(retentionDays int) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -retentionDays).Format("2006-01-02")

	result, err := r.db.Exec("DELETE FROM risk_results WHERE asof_date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge risk results: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		r.log.Info().Int64("deleted", deleted).Str("cutoff", cutoff).Msg("Purged stale risk results")
	}
	return deleted, nil
}
