// Package server exposes the HTTP intake: the transport webhook that feeds
// the dedup gate, a read-only event lookup, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/pipeline"
	"github.com/shahamT/valley-luz/internal/store"
)

// maxBodyBytes bounds a webhook payload, inline media included.
const maxBodyBytes = 16 << 20

// Intake admits messages into the pipeline.
type Intake interface {
	HandleIncomingMessage(ctx context.Context, msg model.RawMessage) (*pipeline.IntakeResult, error)
}

// Options configures a Server.
type Options struct {
	CORSOrigins []string
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Ping reports store health. Nil skips the check.
	Ping func(ctx context.Context) error
}

// Server routes HTTP requests to the intake gate and the document store.
type Server struct {
	intake Intake
	docs   *store.Documents
	opts   Options
}

// New creates a Server.
func New(intake Intake, docs *store.Documents, opts Options) *Server {
	return &Server{intake: intake, docs: docs, opts: opts}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Api-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", s.postMessage)
		r.Get("/events/{id}", s.getEvent)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ping(ctx); err != nil {
			zap.L().Warn("server: store ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var msg model.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(msg.Sender) == "" {
		writeError(w, http.StatusBadRequest, "sender is required")
		return
	}
	if !msg.HasText() && msg.Media == nil {
		writeError(w, http.StatusBadRequest, "text or media is required")
		return
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}

	res, err := s.intake.HandleIncomingMessage(r.Context(), msg)
	if err != nil {
		zap.L().Error("server: intake failed", zap.String("sender", msg.Sender), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "intake unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec := s.docs.Get(r.Context(), id)
	if rec == nil || !rec.IsActive {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
