// Package httpapi exposes the catalog over HTTP: the fire-and-forget update
// trigger and a read-only product listing.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/catalogd/internal/catalog"
	"github.com/jmylchreest/catalogd/internal/config"
	"github.com/jmylchreest/catalogd/internal/jobs"
	"github.com/jmylchreest/catalogd/internal/logger"
	"github.com/jmylchreest/catalogd/internal/output"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Submitter accepts background tasks. *jobs.Executor implements it.
type Submitter interface {
	Submit(t jobs.Task) (string, error)
}

// Options wires the handlers to the rest of the service.
type Options struct {
	Jobs   Submitter
	Store  catalog.Store
	Update jobs.Task // submitted on every trigger
}

type api struct {
	jobs   Submitter
	store  catalog.Store
	update jobs.Task
	log    *slog.Logger
}

// NewRouter builds the HTTP handler. Trailing slashes are optional on every route.
func NewRouter(opts Options) http.Handler {
	a := &api{
		jobs:   opts.Jobs,
		store:  opts.Store,
		update: opts.Update,
		log:    logger.Component("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", a.health)
	r.Post("/api/update-products", a.triggerUpdate)
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", a.listProducts)
		r.Get("/{id}", a.getProduct)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// NewServer returns an http.Server for handler using the configured timeouts.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Component("http").Handler(), slog.LevelWarn),
	}
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// triggerUpdate schedules a catalog run and answers before it starts. The
// response never reflects the run's outcome.
func (a *api) triggerUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := a.jobs.Submit(a.update)
	switch {
	case errors.Is(err, jobs.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	case errors.Is(err, jobs.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "update backlog is full, retry later")
		return
	case err != nil:
		a.log.Error("schedule update failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "could not schedule update")
		return
	}

	writeJSON(w, http.StatusAccepted, statusResponse{
		Status:  "success",
		Message: "catalog update scheduled",
		TaskID:  id,
	})
}

func (a *api) listProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxPageSize))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	entries, err := a.store.List(r.Context(), catalog.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		a.log.Error("list products failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "could not list products")
		return
	}
	writeJSON(w, http.StatusOK, output.Products(entries))
}

func (a *api) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	entry, err := a.store.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		a.log.Error("get product failed", "id", id, "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "could not load product")
		return
	}
	writeJSON(w, http.StatusOK, output.ProductFromEntry(entry))
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, statusResponse{Status: "error", Message: message})
}

// requestLogger logs one line per request after it completes.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				level := slog.LevelInfo
				if status >= http.StatusInternalServerError {
					level = slog.LevelWarn
				}
				log.Log(r.Context(), level, "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"latency", time.Since(start).Round(time.Microsecond),
					"remote", r.RemoteAddr,
					"request_id", middleware.GetReqID(r.Context()))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
