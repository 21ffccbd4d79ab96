package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Notifier pushes engine events to connected clients.
type Notifier interface {
	Broadcast(event string, data interface{})
}

// Handler serves the risk analytics endpoints.
type Handler struct {
	service  *Service
	notifier Notifier
	log      zerolog.Logger
}

// NewHandler creates a new risk handler. notifier may be nil when no push
// channel is wired.
func NewHandler(service *Service, notifier Notifier, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		notifier: notifier,
		log:      log.With().Str("handler", "risk").Logger(),
	}
}

// parseRequest extracts (window, method, force) from query parameters.
func (h *Handler) parseRequest(r *http.Request) (Request, error) {
	req := Request{Window: DefaultWindow}

	if windowParam := r.URL.Query().Get("window"); windowParam != "" {
		parsed, err := strconv.Atoi(windowParam)
		if err != nil || parsed <= 0 {
			return req, &DimensionError{What: "window", Got: 0, Expected: DefaultWindow}
		}
		req.Window = parsed
	}

	method, err := ParseMethod(r.URL.Query().Get("method"))
	if err != nil {
		return req, err
	}
	req.Method = method

	req.Force = r.URL.Query().Get("force") == "true"
	return req, nil
}

// HandleGetRiskPack returns the full risk bundle for the current portfolio.
func (h *Handler) HandleGetRiskPack(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pack, err := h.service.ComputeRiskPack(r.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Msg("Risk pack computation failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, pack)
}

// HandleGetSummary returns the portfolio-level risk snapshot.
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	pack, ok := h.pack(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":  pack.Summary,
		"metadata": pack.Metadata,
	})
}

// HandleGetContributors returns the per-position risk decomposition.
func (h *Handler) HandleGetContributors(w http.ResponseWriter, r *http.Request) {
	pack, ok := h.pack(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"contributors": pack.Contributors,
		"metadata":     pack.Metadata,
	})
}

// HandleGetCorrelationPairs returns the top pairs ranked by absolute
// correlation.
func (h *Handler) HandleGetCorrelationPairs(w http.ResponseWriter, r *http.Request) {
	pack, ok := h.pack(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pairs":    pack.CorrelationPairs,
		"metadata": pack.Metadata,
	})
}

// HandleGetClusters returns the exposure-weighted correlation clusters.
func (h *Handler) HandleGetClusters(w http.ResponseWriter, r *http.Request) {
	pack, ok := h.pack(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"clusters": pack.Clusters,
		"metadata": pack.Metadata,
	})
}

// HandleRecompute triggers a forced recompute of every cached (window, method)
// combination in the background and returns immediately.
func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	h.log.Info().Msg("Risk recompute triggered")
	go h.recomputeAll()
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recomputation_triggered"})
}

// recomputeAll force-refreshes both windows under both estimators, then
// notifies connected clients once.
func (h *Handler) recomputeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	for _, window := range []int{60, DefaultWindow} {
		for _, method := range []CovarianceMethod{LedoitWolf(), Ewma(DefaultEwmaLambda)} {
			if _, err := h.service.ComputeRiskPack(ctx, Request{Window: window, Method: method, Force: true}); err != nil {
				h.log.Error().Err(err).
					Int("window", window).
					Str("method", method.String()).
					Msg("Forced recompute failed")
				continue
			}
			h.log.Info().
				Int("window", window).
				Str("method", method.String()).
				Msg("Risk pack recomputed")
		}
	}

	if h.notifier != nil {
		h.notifier.Broadcast("risk_pack_updated", map[string]interface{}{"status": "completed"})
	}
}

// HandleGetStress returns all stress scenario results.
func (h *Handler) HandleGetStress(w http.ResponseWriter, r *http.Request) {
	pack, ok := h.pack(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, pack.Stress)
}

// HandleGetQuality returns the data-quality pack for the health panel.
func (h *Handler) HandleGetQuality(w http.ResponseWriter, r *http.Request) {
	pack, ok := h.pack(w, r)
	if !ok {
		return
	}
	if pack.Quality == nil {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"warnings": []QualityWarning{}})
		return
	}
	h.writeJSON(w, http.StatusOK, pack.Quality)
}

func (h *Handler) pack(w http.ResponseWriter, r *http.Request) (*RiskPack, bool) {
	req, err := h.parseRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	pack, err := h.service.ComputeRiskPack(r.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Msg("Risk pack computation failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return pack, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
