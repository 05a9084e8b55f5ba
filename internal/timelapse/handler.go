package timelapse

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/JohannPlaye/earthimagery/internal/platform/metrics"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// Handler exposes the playlist, range-info and day-listing endpoints.
type Handler struct {
	svc      *Service
	log      *slog.Logger
	metrics  *metrics.Metrics
	cacheTTL time.Duration
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests). cacheTTL is
// advertised to clients in Cache-Control.
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics, cacheTTL time.Duration) *Handler {
	return &Handler{svc: svc, log: log, metrics: m, cacheTTL: cacheTTL}
}

// GetPlaylist handles GET /api/playlist?satellite=&sector=&product=&resolution=&from=&to=.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	k, err := h.svc.ParseRangeKey(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	m3u8, segments, err := h.svc.Playlist(r.Context(), k)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Debug("playlist synthesized",
		slog.String("key", k.Identity.Key()),
		slog.String("from", FormatDate(k.From)),
		slog.String("to", FormatDate(k.To)),
		slog.Int("segments", segments))

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.cacheTTL.Seconds())))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m3u8))
	if h.metrics != nil {
		h.metrics.ObservePlaylist(segments)
	}
}

// PostRangeInfo handles POST /api/playlist.
// Body: { "from": "2025-07-20", "to": "2025-07-22" } plus optional identity fields.
func (h *Handler) PostRangeInfo(w http.ResponseWriter, r *http.Request) {
	var req RangeInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid range info body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}

	info, err := h.svc.RangeInfo(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type dayListingsResponse struct {
	Success   bool         `json:"success"`
	Playlists []DayListing `json:"playlists"`
	Count     int          `json:"count"`
}

// ListDayPlaylists handles GET /api/datasets/playlists. Without identity
// parameters every stored identity is listed.
func (h *Handler) ListDayPlaylists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := DatasetIdentity{
		Source:     q.Get("satellite"),
		Sector:     q.Get("sector"),
		Product:    q.Get("product"),
		Resolution: q.Get("resolution"),
	}
	listings, err := h.svc.DayListings(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dayListingsResponse{Success: true, Playlists: listings, Count: len(listings)})
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, ErrNoContent):
		if h.metrics != nil {
			h.metrics.IncNoContent()
		}
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		h.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
