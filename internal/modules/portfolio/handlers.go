package portfolio

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/rs/zerolog"
)

// Handler serves the portfolio endpoints.
type Handler struct {
	repo    *PositionRepository
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler.
func NewHandler(repo *PositionRepository, service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		service: service,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetPositions returns current positions, largest first.
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.repo.GetAll()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sort.SliceStable(positions, func(a, b int) bool {
		return positions[a].MarketValue > positions[b].MarketValue
	})
	if positions == nil {
		positions = []Position{}
	}
	h.writeJSON(w, http.StatusOK, positions)
}

// HandleGetSummary returns the exposure snapshot.
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// HandleSync replaces the stored portfolio with the posted snapshot.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	var positions []Position
	if err := json.NewDecoder(r.Body).Decode(&positions); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid position payload: "+err.Error())
		return
	}

	if err := h.service.Sync(positions); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"positions": len(positions),
	})
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
