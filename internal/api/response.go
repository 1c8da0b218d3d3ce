package api

import (
	"encoding/json"
	"net/http"

	"github.com/user/edexd/internal/host"
	"github.com/user/edexd/internal/shell"
)

type errorBody struct {
	Error string `json:"error"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorBody{Error: message})
}

// resultResponse writes a host.Result with a status matching its error.
func resultResponse(w http.ResponseWriter, res host.Result) {
	status := http.StatusOK
	switch {
	case res.Success:
	case res.Error == shell.ErrSessionNotFound.Error():
		status = http.StatusNotFound
	case res.Error == host.ErrMissingID.Error(), res.Error == host.ErrUnknownKey.Error():
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	jsonResponse(w, status, res)
}
