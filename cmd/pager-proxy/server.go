package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/pagedsource/pkg/datasource"
	"github.com/Sternrassler/pagedsource/pkg/logging"
	"github.com/Sternrassler/pagedsource/pkg/metrics"
	"github.com/Sternrassler/pagedsource/pkg/navigator"
	"github.com/Sternrassler/pagedsource/pkg/pagination"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// readyFunc reports whether the proxy's dependencies are reachable.
type readyFunc func(ctx context.Context) error

type server struct {
	ds      *datasource.DataSource
	window  pagination.WindowConfig
	ready   readyFunc
	timeout time.Duration
	logger  zerolog.Logger
}

func newServer(ds *datasource.DataSource, ready readyFunc, timeout time.Duration) *server {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	return &server{
		ds:      ds,
		window:  pagination.DefaultWindowConfig(),
		ready:   ready,
		timeout: timeout,
		logger:  logging.NewLogger(logging.ComponentProxy),
	}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc("/pages/{page:[0-9]+}", s.pageHandler).Methods(http.MethodGet)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) pageHandler(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}

	window, err := s.windowConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	items, err := s.ds.GetDisplayPage(ctx, page)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn().
			Err(err).
			Int("display_page", page).
			Int("status", status).
			Msg("Display page request failed")
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, navigator.BuildView(s.ds, page, items, window))
}

// windowConfig applies the ?window= and ?radius= overrides.
func (s *server) windowConfig(r *http.Request) (pagination.WindowConfig, error) {
	cfg := s.window
	q := r.URL.Query()
	if v := q.Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("invalid window %q", v)
		}
		cfg.MaxButtons = n
	}
	if v := q.Get("radius"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid radius %q", v)
		}
		cfg.Radius = n
	}
	return cfg, nil
}

func statusFor(err error) int {
	var failure *datasource.FetchFailure
	switch {
	case errors.Is(err, datasource.ErrPageOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &failure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
