// Package gateway serves the WhatsApp webhook and the operational endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nextlevelbuilder/mercabot/internal/channels"
	"github.com/nextlevelbuilder/mercabot/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/mercabot/internal/inbound"
	"github.com/nextlevelbuilder/mercabot/internal/metrics"
	"github.com/nextlevelbuilder/mercabot/internal/sessions"
)

const (
	maxWebhookBody  = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// FragmentSink accepts one inbound fragment per webhook call.
type FragmentSink interface {
	OnFragment(ctx context.Context, userID, text string) (inbound.Status, error)
}

// MediaResolver turns media messages into agent-readable text.
type MediaResolver interface {
	Resolve(ctx context.Context, in *whatsapp.Incoming) string
}

// Config holds the listener settings.
type Config struct {
	Host         string
	Port         int
	RateLimitRPM int // per sender; <= 0 disables
	Version      string
}

// Server is the HTTP front door.
type Server struct {
	cfg     Config
	sink    FragmentSink
	media   MediaResolver
	metrics *metrics.Metrics
	limiter *channels.WebhookRateLimiter

	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates a gateway server. media may be nil, in which case
// message text is dispatched as received.
func NewServer(cfg Config, sink FragmentSink, media MediaResolver, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		sink:    sink,
		media:   media,
		metrics: m,
		limiter: channels.NewWebhookRateLimiter(cfg.RateLimitRPM),
	}
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	if s.handler != nil {
		return s.handler
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Post("/", s.handleWebhook)
	r.Post("/webhook/whatsapp", s.handleWebhook)

	s.handler = r
	return r
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "online", "version": s.cfg.Version})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "ts": time.Now().Format(time.RFC3339)})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"detail": "body too large"})
		return
	}

	in, err := whatsapp.ParseWebhook(body)
	if err != nil {
		slog.Debug("gateway: invalid webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid json"})
		return
	}
	if in.FromMe || in.UserID == "" {
		s.ignored(w)
		return
	}
	if !s.limiter.Allow(in.UserID) {
		slog.Warn("gateway: sender rate limited", "user_id", sessions.MaskUserID(in.UserID))
		s.metrics.Fragment("rate_limited")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "rate_limited"})
		return
	}

	text := in.Text
	if s.media != nil {
		text = s.media.Resolve(r.Context(), in)
	}
	if strings.TrimSpace(text) == "" {
		s.ignored(w)
		return
	}

	slog.Debug("gateway: fragment received",
		"user_id", sessions.MaskUserID(in.UserID),
		"type", in.Type,
		"preview", preview(text, 50),
	)

	status, err := s.sink.OnFragment(r.Context(), in.UserID, text)
	if err != nil {
		slog.Error("gateway: dispatch failed", "user_id", sessions.MaskUserID(in.UserID), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) ignored(w http.ResponseWriter) {
	s.metrics.Fragment("ignored")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
}

// accessLog logs each request except health checks.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
