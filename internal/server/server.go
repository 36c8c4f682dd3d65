package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazz-dev/linkprobe/internal/metrics"
	"github.com/hazz-dev/linkprobe/internal/storage"
)

// ServerStore defines the storage queries the server needs.
type ServerStore interface {
	AllLatest(ctx context.Context) ([]storage.Outcome, error)
	LatestOutcome(ctx context.Context, url string) (*storage.Outcome, error)
	URLHistory(ctx context.Context, url string, limit, offset int) ([]storage.Outcome, int, error)
	UptimePercent(ctx context.Context, url string, last int) (float64, error)
	Runs(ctx context.Context, limit int) ([]storage.Run, error)
}

// Server holds the chi router and its dependencies.
type Server struct {
	store   ServerStore
	router  chi.Router
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics instruments every request and exposes /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new Server and registers all routes.
func New(store ServerStore, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		router: chi.NewRouter(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/urls", s.handleListURLs)
	r.Get("/api/urls/latest", s.handleGetURL)
	r.Get("/api/urls/history", s.handleGetURLHistory)
	r.Get("/api/runs", s.handleListRuns)
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// intParam reads a non-negative integer query parameter, capped at max when max > 0.
func intParam(r *http.Request, name string, def, max int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	if max > 0 && n > max {
		n = max
	}
	return n, true
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type urlDetail struct {
	URL         string    `json:"url"`
	FinalURL    string    `json:"final_url"`
	Status      string    `json:"status"`
	StatusCode  int       `json:"status_code"`
	Error       string    `json:"error"`
	ResponseMs  int64     `json:"response_ms"`
	UptimePct   float64   `json:"uptime_percent"`
	LastChecked time.Time `json:"last_checked"`
}

func statusLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func (s *Server) detail(ctx context.Context, o storage.Outcome) urlDetail {
	pct, err := s.store.UptimePercent(ctx, o.URL, 100)
	if err != nil {
		s.logger.Warn("UptimePercent", "url", o.URL, "error", err)
	}
	return urlDetail{
		URL:         o.URL,
		FinalURL:    o.FinalURL,
		Status:      statusLabel(o.Active),
		StatusCode:  o.StatusCode,
		Error:       o.Error,
		ResponseMs:  o.ResponseMs,
		UptimePct:   pct,
		LastChecked: o.CheckedAt,
	}
}

func (s *Server) handleListURLs(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.AllLatest(r.Context())
	if err != nil {
		s.logger.Error("AllLatest", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	details := make([]urlDetail, 0, len(latest))
	for _, o := range latest {
		details = append(details, s.detail(r.Context(), o))
	}
	writeJSON(w, http.StatusOK, details)
}

type urlDetailResponse struct {
	urlDetail
	RecentOutcomes []storage.Outcome `json:"recent_outcomes"`
}

func (s *Server) handleGetURL(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	latest, err := s.store.LatestOutcome(r.Context(), target)
	if err != nil {
		s.logger.Error("LatestOutcome", "url", target, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, "url not found")
		return
	}

	recent, _, err := s.store.URLHistory(r.Context(), target, 10, 0)
	if err != nil {
		s.logger.Error("URLHistory", "url", target, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, urlDetailResponse{
		urlDetail:      s.detail(r.Context(), *latest),
		RecentOutcomes: recent,
	})
}

type historyResponse struct {
	Outcomes []storage.Outcome `json:"outcomes"`
	Total    int               `json:"total"`
}

func (s *Server) handleGetURLHistory(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	const maxLimit = 1000

	limit, ok := intParam(r, "limit", 50, maxLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}
	offset, ok := intParam(r, "offset", 0, 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid offset parameter")
		return
	}

	outcomes, total, err := s.store.URLHistory(r.Context(), target, limit, offset)
	if err != nil {
		s.logger.Error("URLHistory", "url", target, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if total == 0 {
		writeError(w, http.StatusNotFound, "url not found")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Outcomes: outcomes,
		Total:    total,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", 20, 500)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}

	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		s.logger.Error("Runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
