package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/user/edexd/internal/host"
)

type pollingRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.host.Snapshot(r.Context())
	if snap == nil {
		jsonError(w, http.StatusServiceUnavailable, "telemetry sample failed")
		return
	}
	jsonResponse(w, http.StatusOK, snap)
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.host.CPUHistory())
}

func (h *handler) getStats(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.host.TelemetryStats())
}

func (h *handler) getArchive(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.host.Archive(r.Context(), limit)
	if errors.Is(err, host.ErrArchiveDisabled) {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to read telemetry archive")
		return
	}
	jsonResponse(w, http.StatusOK, entries)
}

func (h *handler) setPolling(w http.ResponseWriter, r *http.Request) {
	var req pollingRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Enabled {
		h.host.StartPolling()
	} else {
		h.host.StopPolling()
	}
	jsonResponse(w, http.StatusOK, h.host.TelemetryStats())
}
