package api

import (
	"net/http"
	"strconv"
)

type createSessionRequest struct {
	ID string `json:"id"`
}

type writeRequest struct {
	Data string `json:"data"`
}

type submitRequest struct {
	Line string `json:"line"`
}

type keyRequest struct {
	Key string `json:"key"`
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.host.ListSessions())
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resultResponse(w, h.host.CreateSession(req.ID))
}

func (h *handler) destroySession(w http.ResponseWriter, r *http.Request) {
	resultResponse(w, h.host.DestroySession(r.PathValue("id")))
}

func (h *handler) getLines(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	records := h.host.Lines(r.PathValue("id"), limit)
	if records == nil {
		jsonError(w, http.StatusNotFound, "no lines for session")
		return
	}
	jsonResponse(w, http.StatusOK, records)
}

func (h *handler) writeSession(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resultResponse(w, h.host.WriteSession(r.PathValue("id"), req.Data))
}

func (h *handler) submitLine(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resultResponse(w, h.host.SubmitLine(r.PathValue("id"), req.Line))
}

func (h *handler) sendKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resultResponse(w, h.host.SendKey(r.PathValue("id"), req.Key))
}

func (h *handler) resizeSession(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resultResponse(w, h.host.ResizeSession(r.PathValue("id"), req.Cols, req.Rows))
}

func (h *handler) clearSession(w http.ResponseWriter, r *http.Request) {
	resultResponse(w, h.host.Clear(r.PathValue("id")))
}
