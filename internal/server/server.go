package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantfold/riskdesk/internal/modules/portfolio"
	"github.com/quantfold/riskdesk/internal/modules/risk"
)

// Config holds server configuration.
type Config struct {
	Port             int
	Log              zerolog.Logger
	DevMode          bool
	RiskHandler      *risk.Handler
	PortfolioHandler *portfolio.Handler
	Hub              *Hub
}

// Server is the HTTP/WebSocket front of the risk engine.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	riskH     *risk.Handler
	portfolio *portfolio.Handler
	hub       *Hub
	startedAt time.Time
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		riskH:     cfg.RiskHandler,
		portfolio: cfg.PortfolioHandler,
		hub:       cfg.Hub,
		startedAt: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // risk recomputes can be slow on cold caches
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(120 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
		})

		r.Route("/portfolio", func(r chi.Router) {
			r.Get("/", s.portfolio.HandleGetPositions)
			r.Get("/summary", s.portfolio.HandleGetSummary)
			r.Post("/sync", s.portfolio.HandleSync)
		})

		r.Route("/risk", func(r chi.Router) {
			r.Get("/pack", s.riskH.HandleGetRiskPack)
			r.Get("/summary", s.riskH.HandleGetSummary)
			r.Get("/contributors", s.riskH.HandleGetContributors)
			r.Get("/correlation", s.riskH.HandleGetCorrelationPairs)
			r.Get("/clusters", s.riskH.HandleGetClusters)
			r.Get("/stress", s.riskH.HandleGetStress)
			r.Get("/quality", s.riskH.HandleGetQuality)
			r.Post("/recompute", s.riskH.HandleRecompute)
		})
	})

	if s.hub != nil {
		s.router.Get("/ws", s.hub.HandleWS)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	if s.hub != nil {
		s.hub.CloseAll()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
