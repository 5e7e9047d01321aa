package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/dbfailover/internal/backend"
	"github.com/angeloszaimis/dbfailover/internal/registry"
	"github.com/angeloszaimis/dbfailover/internal/router"
)

type AdminHandler struct {
	logger *slog.Logger
	router *router.Router
}

type backendView struct {
	backend.Status
	Active bool `json:"active"`
}

type healthView struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Generation int64  `json:"generation"`
}

type errorView struct {
	Error string `json:"error"`
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func NewAdminHandler(logger *slog.Logger, r *router.Router) *AdminHandler {
	return &AdminHandler{
		logger: logger,
		router: r,
	}
}

// Register mounts the admin routes on mux.
func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /backends", h.ListBackends)
	mux.HandleFunc("GET /backends/{name}", h.GetBackend)
	mux.HandleFunc("POST /backends/{name}/probe", h.ProbeBackend)
	mux.HandleFunc("POST /backends/{name}/heal", h.HealBackend)
	mux.HandleFunc("GET /active", h.Active)
}

func (h *AdminHandler) ListBackends(w http.ResponseWriter, r *http.Request) {
	active, _ := h.router.SelectActive()

	backends := h.router.Registry().Backends()
	views := make([]backendView, 0, len(backends))
	for _, b := range backends {
		views = append(views, backendView{Status: b.Status(), Active: b.Name() == active})
	}

	writeJSON(w, http.StatusOK, views)
}

func (h *AdminHandler) GetBackend(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookup(w, r)
	if !ok {
		return
	}

	active, _ := h.router.SelectActive()
	writeJSON(w, http.StatusOK, backendView{Status: b.Status(), Active: b.Name() == active})
}

func (h *AdminHandler) ProbeBackend(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookup(w, r)
	if !ok {
		return
	}

	healthy := b.ProbeHealth(r.Context())
	h.logger.Info("Forced probe",
		slog.String("backend", b.Name()),
		slog.Bool("healthy", healthy))

	writeJSON(w, http.StatusOK, healthView{Name: b.Name(), Healthy: healthy, Generation: b.Generation()})
}

func (h *AdminHandler) HealBackend(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookup(w, r)
	if !ok {
		return
	}

	healthy := b.HealIfNeeded(r.Context())
	h.logger.Info("Forced heal",
		slog.String("backend", b.Name()),
		slog.Bool("healthy", healthy),
		slog.Int64("generation", b.Generation()))

	writeJSON(w, http.StatusOK, healthView{Name: b.Name(), Healthy: healthy, Generation: b.Generation()})
}

func (h *AdminHandler) Active(w http.ResponseWriter, r *http.Request) {
	name, err := h.router.SelectActive()
	if errors.Is(err, router.ErrNoHealthyBackend) {
		writeJSON(w, http.StatusServiceUnavailable, errorView{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (h *AdminHandler) lookup(w http.ResponseWriter, r *http.Request) (*backend.ManagedBackend, bool) {
	b, err := h.router.Registry().Get(r.PathValue("name"))
	if errors.Is(err, registry.ErrUnknownBackend) {
		writeJSON(w, http.StatusNotFound, errorView{Error: err.Error()})
		return nil, false
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return nil, false
	}
	return b, true
}

// Logging wraps next with a request log line carrying the client address,
// status and duration.
func Logging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		logger.Info("Admin request",
			slog.String("from", extractClientIP(r)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("took", time.Since(start)))
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
