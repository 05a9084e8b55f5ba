package datasets

import (
	"encoding/json"
	"net/http"
	"time"
)

// Handler serves GET /api/datasets/status.
type Handler struct {
	holder *Holder
	now    func() time.Time
}

// NewHandler returns a Handler reading from holder.
func NewHandler(holder *Holder) *Handler {
	return &Handler{holder: holder, now: time.Now}
}

type statusResponse struct {
	Success         bool      `json:"success"`
	Datasets        []Dataset `json:"datasets"`
	TotalCount      int       `json:"total_count"`
	EnabledCount    int       `json:"enabled_count"`
	DiscoveredCount int       `json:"discovered_count"`
	Timestamp       string    `json:"timestamp"`
}

// Status handles GET /api/datasets/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	s := h.holder.Snapshot()
	datasets := s.Datasets
	if datasets == nil {
		datasets = []Dataset{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(statusResponse{
		Success:         true,
		Datasets:        datasets,
		TotalCount:      len(datasets),
		EnabledCount:    s.EnabledCount(),
		DiscoveredCount: s.DiscoveredCount(),
		Timestamp:       h.now().UTC().Format(time.RFC3339Nano),
	})
}
