// Package api exposes the host command table over REST.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/user/edexd/internal/archive"
	"github.com/user/edexd/internal/host"
	"github.com/user/edexd/internal/parser"
	"github.com/user/edexd/internal/shell"
	"github.com/user/edexd/internal/telemetry"
)

// backend is the subset of *host.Host the REST surface uses.
type backend interface {
	CreateSession(id string) host.Result
	WriteSession(id, data string) host.Result
	SubmitLine(id, line string) host.Result
	SendKey(id, key string) host.Result
	ResizeSession(id string, cols, rows int) host.Result
	DestroySession(id string) host.Result
	Clear(id string) host.Result
	Lines(id string, limit int) []parser.Record
	ListSessions() []shell.SessionInfo

	Snapshot(ctx context.Context) *telemetry.Snapshot
	CPUHistory() []int
	StartPolling()
	StopPolling()
	TelemetryStats() telemetry.Stats
	Archive(ctx context.Context, limit int) ([]*archive.Entry, error)
}

type handler struct {
	host backend
}

func NewRouter(b backend, token string) http.Handler {
	handler := &handler{host: b}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", handler.listSessions)
	mux.HandleFunc("POST /api/sessions", handler.createSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", handler.destroySession)
	mux.HandleFunc("GET /api/sessions/{id}/lines", handler.getLines)
	mux.HandleFunc("POST /api/sessions/{id}/write", handler.writeSession)
	mux.HandleFunc("POST /api/sessions/{id}/submit", handler.submitLine)
	mux.HandleFunc("POST /api/sessions/{id}/key", handler.sendKey)
	mux.HandleFunc("POST /api/sessions/{id}/resize", handler.resizeSession)
	mux.HandleFunc("POST /api/sessions/{id}/clear", handler.clearSession)

	mux.HandleFunc("GET /api/telemetry", handler.getSnapshot)
	mux.HandleFunc("GET /api/telemetry/history", handler.getHistory)
	mux.HandleFunc("GET /api/telemetry/stats", handler.getStats)
	mux.HandleFunc("GET /api/telemetry/archive", handler.getArchive)
	mux.HandleFunc("POST /api/telemetry/polling", handler.setPolling)

	wrapped := authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if tokenMatches(strings.TrimSpace(authHeader[7:]), token) {
					next.ServeHTTP(w, r)
					return
				}
			}

			if tokenMatches(r.URL.Query().Get("token"), token) {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func tokenMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
