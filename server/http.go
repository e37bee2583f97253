package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceforge/config"
	"faceforge/core"
	"faceforge/media"
	"faceforge/metrics"
	elevenlabs "faceforge/services/elevenlabs/voice"
	"faceforge/stream"
)

// Version is the service version reported by the info endpoints.
const Version = "0.1.0"

// Server is the HTTP surface: health, upload/process REST API, the realtime
// stream endpoint and the session admin listing.
type Server struct {
	httpServer *http.Server
	registry   *stream.Registry
	logger     *core.Logger
	metrics    *metrics.Metrics
	startTime  time.Time
}

// New wires the router and handlers. syncer and cloner may be nil when
// ffmpeg or the ElevenLabs API key is unavailable.
func New(cfg config.Config, registry *stream.Registry, streamHandler *stream.Handler, store *JobStore, syncer *media.AudioSyncer, cloner *elevenlabs.VoiceCloner, m *metrics.Metrics, logger *core.Logger) *Server {
	s := &Server{
		registry:  registry,
		logger:    logger.With(map[string]any{"component": "http"}),
		metrics:   m,
		startTime: time.Now(),
	}

	uploadH := NewUploadHandler(store, cfg.Upload, logger)
	processH := NewProcessHandler(store, uploadH, syncer, cfg.Upload, logger)
	voiceH := NewVoiceHandler(cloner, cfg.Upload, logger)

	r := chi.NewRouter()
	r.Use(s.withMetrics)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/ws/stream", streamHandler.ServeStream)
	r.Get("/stream/sessions", s.handleSessions)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/upload", uploadH.Upload)
		r.Get("/upload/status/{job_id}", uploadH.Status)
		r.Post("/process", processH.Start)
		r.Get("/process/result/{job_id}", processH.Result)
		r.Get("/process/jobs", processH.Jobs)
		r.Get("/voice/presets", voiceH.Presets)
		r.Post("/voice/clone", voiceH.Clone)
		r.Post("/voice/speech", voiceH.Speech)
		r.Delete("/voice/{voice_id}", voiceH.Delete)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "FaceForge API",
		"version": Version,
		"health":  "/health",
		"stream":  "/ws/stream",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":     true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSessions is the read-only admin view over live stream sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_sessions": s.registry.Count(),
		"sessions":        s.registry.List(),
	})
}

// withMetrics records request counts and latency per route pattern.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		s.metrics.HTTPRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(ww.status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade reach the underlying connection through
// the metrics wrapper.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAPIError renders any error as the {"error", "details"} body the
// original API contract uses.
func writeAPIError(w http.ResponseWriter, err error) {
	apiErr := core.AsAPIError(err)
	writeJSON(w, apiErr.StatusCode, map[string]interface{}{
		"error":   apiErr.Message,
		"details": apiErr.Details,
	})
}
