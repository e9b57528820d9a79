// Package server exposes the dashboard backend over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/llamacompass/compass/internal/gateway"
	"github.com/llamacompass/compass/internal/metrics"
	"github.com/llamacompass/compass/internal/service"
	"github.com/llamacompass/compass/internal/store"
	"github.com/llamacompass/compass/pkg/types"
)

const (
	// RequestIDHeader carries the request correlation id in both directions.
	RequestIDHeader = "X-Request-ID"

	maxRequestBody = 1 << 20
)

// Config holds the server settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	Logger         types.Logger
	// Metrics, when set, is exposed on /metrics.
	Metrics metrics.Collector
}

// Server is the HTTP + WebSocket API surface.
type Server struct {
	cfg      Config
	svc      *service.Service
	feed     *Feed
	router   chi.Router
	upgrader websocket.Upgrader
	logger   types.Logger
}

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type contextKey string

const requestIDKey contextKey = "requestID"

// New creates a Server for svc. feed should be the Notifier svc publishes to.
func New(cfg Config, svc *service.Service, feed *Feed) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = &types.MockLogger{}
	}
	if feed == nil {
		feed = NewFeed(logger)
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		feed:   feed,
		router: chi.NewRouter(),
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(s.cors)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics.MetricsHandler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/feed", s.handleFeed)

		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

			r.Post("/scans", s.handleScan)
			r.Get("/scans", s.handleListScans)
			r.Get("/issues", s.handleListIssues)
			r.Patch("/issues/{id}", s.handleUpdateIssue)
			r.Get("/solutions", s.handleListSolutions)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/reports", s.handleListReports)
		})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// scans can take minutes and the feed streams
		WriteTimeout: 0,
	}
}

// Close disconnects feed subscribers.
func (s *Server) Close() {
	s.feed.Close()
}

// --- middleware ---

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFromContext returns the id assigned to the request, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http_request",
			zap.String("requestID", RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			if s.allowAnyOrigin() {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
			w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowAnyOrigin() bool {
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

// --- handlers ---

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req service.ScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	record, err := s.svc.Scan(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: scanMessage(record), Data: record})
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	case errors.Is(err, gateway.ErrAccess):
		writeError(w, http.StatusBadGateway, "repository is not accessible")
	default:
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			if errors.Is(err, context.DeadlineExceeded) {
				writeError(w, http.StatusGatewayTimeout, "scanning service timed out")
				return
			}
			writeError(w, http.StatusBadGateway, gwErr.Error())
			return
		}
		s.logger.Error("scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func scanMessage(record *types.ScanRecord) string {
	switch record.Status() {
	case types.StatusFailed:
		return "Scan failed: " + record.Error()
	case types.StatusPending:
		return "Scan pending"
	default:
		return "Scan completed"
	}
}

func (s *Server) handleListScans(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.svc.ScanHistory())
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeData(w, http.StatusOK, s.svc.Issues(limit))
}

func (s *Server) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status types.IssueStatus `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	issue, err := s.svc.UpdateIssueStatus(chi.URLParam(r, "id"), body.Status)
	switch {
	case err == nil:
		writeData(w, http.StatusOK, issue)
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrIssueNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListSolutions(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.svc.Solutions())
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.svc.Dashboard())
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.svc.Reports(r.Context(), r.URL.Query().Get("repository"))
	if err != nil {
		s.logger.Error("listing reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	writeData(w, http.StatusOK, reports)
}

type healthStatus struct {
	Status         string `json:"status"`
	Scanner        string `json:"scanner"`
	ScannerVersion string `json:"scannerVersion,omitempty"`
	ScannerError   string `json:"scannerError,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Scanner: "ok"}
	health, err := s.svc.Health(ctx)
	switch {
	case errors.Is(err, service.ErrHealthUnsupported):
		status.Scanner = "unknown"
	case err != nil:
		status.Scanner = "unavailable"
		status.ScannerError = err.Error()
		if health != nil {
			status.ScannerVersion = health.Version
		}
	default:
		status.ScannerVersion = health.Version
	}
	writeData(w, http.StatusOK, status)
}
