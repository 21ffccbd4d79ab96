package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantfold/riskdesk/internal/clients/yahoo"
	"github.com/quantfold/riskdesk/internal/config"
	"github.com/quantfold/riskdesk/internal/database"
	"github.com/quantfold/riskdesk/internal/events"
	"github.com/quantfold/riskdesk/internal/modules/marketdata"
	"github.com/quantfold/riskdesk/internal/modules/portfolio"
	"github.com/quantfold/riskdesk/internal/modules/risk"
	"github.com/quantfold/riskdesk/internal/scheduler"
	"github.com/quantfold/riskdesk/internal/server"
	"github.com/quantfold/riskdesk/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info", Pretty: true})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting riskdesk")

	// State database: positions and cached risk results
	stateDB, err := database.New(cfg.StateDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state database")
	}
	defer stateDB.Close()

	// Price database: daily bars, FX rates, security metadata
	priceDB, err := marketdata.OpenPriceDB(cfg.PriceDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open price database")
	}
	defer priceDB.Close()

	// Market data layer
	priceRepo := marketdata.NewPriceRepository(priceDB, log)
	fxRepo := marketdata.NewFxRepository(priceDB, log)
	securityRepo := marketdata.NewSecurityRepository(priceDB, log)
	yahooClient := yahoo.NewClient(log)
	marketService := marketdata.NewService(priceRepo, fxRepo, securityRepo, yahooClient, log)

	eventManager := events.NewManager(log)

	// Portfolio layer
	positionRepo := portfolio.NewPositionRepository(stateDB.Conn(), log)
	portfolioService := portfolio.NewService(positionRepo, eventManager, log)
	portfolioHandler := portfolio.NewHandler(positionRepo, portfolioService, log)

	// Risk engine
	cacheRepo := risk.NewCacheRepository(stateDB.Conn(), log)
	riskService := risk.NewService(
		portfolioService,
		marketService,
		marketService.FxSource(),
		marketService.SecuritySource(),
		cacheRepo,
		log,
	)

	// WebSocket hub for push updates
	hub := server.NewHub(log)

	riskHandler := risk.NewHandler(riskService, hub, log)

	// Create tables before anything queries them
	for name, ensure := range map[string]func() error{
		"positions":     positionRepo.EnsureSchema,
		"risk_results":  cacheRepo.EnsureSchema,
		"price_history": priceRepo.EnsureSchema,
		"fx_rates":      fxRepo.EnsureSchema,
		"security_info": securityRepo.EnsureSchema,
	} {
		if err := ensure(); err != nil {
			log.Fatal().Err(err).Str("schema", name).Msg("Failed to ensure schema")
		}
	}

	// Background jobs
	sched := scheduler.New(log)
	historyDays := cfg.RiskWindow * 2
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.PriceRefreshSchedule, scheduler.NewPriceRefreshJob(marketService, historyDays, eventManager, log)},
		{cfg.RiskRefreshSchedule, scheduler.NewRiskRefreshJob(riskService, []int{60, cfg.RiskWindow}, hub, eventManager, log)},
		{"0 0 4 * * *", scheduler.NewCachePurgeJob(cacheRepo, cfg.CacheRetentionDays, eventManager, log)},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to register job")
		}
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:             cfg.Port,
		Log:              log,
		DevMode:          cfg.DevMode,
		RiskHandler:      riskHandler,
		PortfolioHandler: portfolioHandler,
		Hub:              hub,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
