package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/riskdesk/internal/events"
	"github.com/quantfold/riskdesk/internal/modules/marketdata"
	"github.com/quantfold/riskdesk/internal/modules/risk"
)

// Broadcaster pushes events to connected clients after a job completes.
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

// PriceRefreshJob pulls fresh daily bars for every tracked symbol plus the
// stress factor universe.
type PriceRefreshJob struct {
	market *marketdata.Service
	days   int
	events *events.Manager
	log    zerolog.Logger
}

// NewPriceRefreshJob creates the nightly price refresh job.
func NewPriceRefreshJob(market *marketdata.Service, days int, ev *events.Manager, log zerolog.Logger) *PriceRefreshJob {
	return &PriceRefreshJob{
		market: market,
		days:   days,
		events: ev,
		log:    log.With().Str("job", "price_refresh").Logger(),
	}
}

// Name returns the job name.
func (j *PriceRefreshJob) Name() string { return "price_refresh" }

// Run refreshes price history for stored symbols and factor ETFs.
func (j *PriceRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
	defer cancel()

	start := time.Now()
	j.market.RefreshAll(ctx, risk.FactorSymbols, j.days)
	j.log.Info().Dur("took", time.Since(start)).Msg("Price refresh finished")
	j.events.Emit(events.PriceRefreshComplete, "scheduler", map[string]interface{}{
		"days": j.days,
	})
	return nil
}

// RiskRefreshJob recomputes the risk pack for the standard windows so the
// morning dashboard load hits a warm cache.
type RiskRefreshJob struct {
	service *risk.Service
	windows []int
	hub     Broadcaster
	events  *events.Manager
	log     zerolog.Logger
}

// NewRiskRefreshJob creates the scheduled risk recompute job.
func NewRiskRefreshJob(service *risk.Service, windows []int, hub Broadcaster, ev *events.Manager, log zerolog.Logger) *RiskRefreshJob {
	if len(windows) == 0 {
		windows = []int{60, risk.DefaultWindow}
	}
	return &RiskRefreshJob{
		service: service,
		windows: windows,
		hub:     hub,
		events:  ev,
		log:     log.With().Str("job", "risk_refresh").Logger(),
	}
}

// Name returns the job name.
func (j *RiskRefreshJob) Name() string { return "risk_refresh" }

// Run recomputes each configured window, forcing past any cached result.
func (j *RiskRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var lastErr error
	for _, window := range j.windows {
		req := risk.Request{Window: window, Method: risk.LedoitWolf(), Force: true}

		start := time.Now()
		pack, err := j.service.ComputeRiskPack(ctx, req)
		if err != nil {
			j.log.Error().Err(err).Int("window", window).Msg("Risk recompute failed")
			j.events.EmitError("risk", err, map[string]interface{}{"window": window})
			lastErr = fmt.Errorf("window %d: %w", window, err)
			continue
		}

		j.log.Info().
			Int("window", window).
			Int("positions", pack.Metadata.NumPositions).
			Dur("took", time.Since(start)).
			Msg("Risk recompute finished")
		j.events.Emit(events.RiskPackComputed, "risk", map[string]interface{}{
			"window":    window,
			"asof_date": pack.Metadata.AsofDate,
			"positions": pack.Metadata.NumPositions,
		})

		if j.hub != nil {
			j.hub.Broadcast("risk_pack_updated", map[string]interface{}{
				"window":    window,
				"asof_date": pack.Metadata.AsofDate,
			})
		}
	}
	return lastErr
}

// CachePurgeJob trims stale rows from the persistent risk result cache.
type CachePurgeJob struct {
	cache         *risk.CacheRepository
	retentionDays int
	events        *events.Manager
	log           zerolog.Logger
}

// NewCachePurgeJob creates the cache retention job.
func NewCachePurgeJob(cache *risk.CacheRepository, retentionDays int, ev *events.Manager, log zerolog.Logger) *CachePurgeJob {
	return &CachePurgeJob{
		cache:         cache,
		retentionDays: retentionDays,
		events:        ev,
		log:           log.With().Str("job", "cache_purge").Logger(),
	}
}

// Name returns the job name.
func (j *CachePurgeJob) Name() string { return "cache_purge" }

// Run deletes cached results older than the retention horizon.
func (j *CachePurgeJob) Run() error {
	deleted, err := j.cache.Purge(j.retentionDays)
	if err != nil {
		return fmt.Errorf("purging risk cache: %w", err)
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Purged stale risk results")
		j.events.Emit(events.CachePurged, "risk", map[string]interface{}{
			"deleted":        deleted,
			"retention_days": j.retentionDays,
		})
	}
	return nil
}
