package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Handler exposes the aggregator over HTTP.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats serves GET /api/v1/analytics. ?top=N sets how many of the most
// asked questions are listed (0 to MaxTopQuestions).
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	top := DefaultTopQuestions
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > MaxTopQuestions {
			h.write(w, http.StatusBadRequest, map[string]string{
				"error": "top must be an integer between 0 and " + strconv.Itoa(MaxTopQuestions),
			})
			return
		}
		top = n
	}
	// Counters move with every query; intermediaries must not replay them.
	w.Header().Set("Cache-Control", "no-store")
	h.write(w, http.StatusOK, h.aggregator.StatsWithTop(top))
}

func (h *Handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write analytics response", "status", status, "error", err)
	}
}
