// Package server exposes the webhook HTTP surface
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"signal_bridge/internal/config"
	"signal_bridge/internal/core"
	"signal_bridge/internal/dedup"
	"signal_bridge/internal/engine"
	"signal_bridge/internal/exchange"
	"signal_bridge/internal/health"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const livenessPage = "<h3>Binance Signal Receiver — Server is running</h3><p>POST JSON to /webhook</p>"

// Transitioner is the slice of the engine the server needs
type Transitioner interface {
	Transition(ctx context.Context, sig core.Signal) (engine.Outcome, error)
}

// Server handles the webhook HTTP surface: liveness, signal ingestion,
// health, cached position lookups and metrics.
type Server struct {
	cfg       config.ServerConfig
	engine    Transitioner
	dedup     *dedup.Deduplicator
	gateway   core.IGateway
	snapshots *exchange.SnapshotStore
	health    *health.Manager
	logger    core.ILogger
	srv       *http.Server

	ipLimiters sync.Map // client IP -> *rate.Limiter
}

// NewServer creates the webhook server
func NewServer(cfg config.ServerConfig, eng Transitioner, dd *dedup.Deduplicator, gw core.IGateway, snapshots *exchange.SnapshotStore, hm *health.Manager, logger core.ILogger) *Server {
	return &Server{
		cfg:       cfg,
		engine:    eng,
		dedup:     dd,
		gateway:   gw,
		snapshots: snapshots,
		health:    hm,
		logger:    logger.WithField("component", "webhook_server"),
	}
}

// Handler builds the route mux. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/position", s.handlePosition)
	if s.cfg.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return s.recoverer(mux)
}

// Run serves until the context is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Webhook server listening", "port", s.cfg.Port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	grace := time.Duration(s.cfg.ShutdownGrace) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.logger.Info("Shutting down webhook server", "grace", grace)
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, livenessPage)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
		return
	}

	if !s.allow(r) {
		webhookRateLimitedTotal.Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{"error": "rate limited"})
		return
	}

	start := time.Now()
	defer func() {
		webhookDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		webhookSignalsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid json"})
		return
	}

	sig, problem := payload.toSignal()
	if problem != "" {
		webhookSignalsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": problem})
		return
	}

	// Audit line before any processing happens.
	s.logger.Info("Received webhook",
		"symbol", sig.Symbol, "side", sig.Side, "notional", sig.Notional,
		"signal_id", sig.SignalID, "reduce_only", sig.ReduceOnly)

	if ok, reason := s.dedup.Admit(sig, time.Now()); !ok {
		webhookSignalsTotal.WithLabelValues("duplicate").Inc()
		switch reason {
		case dedup.ReasonDuplicateID:
			s.logger.Warn("Signal already processed, ignoring", "signal_id", sig.SignalID)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "ignored_duplicate_signal", "signalId": sig.SignalID,
			})
		default:
			key := dedup.CompositeKey(sig)
			s.logger.Warn("Rapid duplicate, ignoring", "key", key)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "ignored_quick_duplicate", "key": key,
			})
		}
		return
	}

	outcome, err := s.engine.Transition(r.Context(), sig)
	if err != nil {
		s.writeTransitionError(w, sig, err)
		return
	}

	webhookSignalsTotal.WithLabelValues(outcome.String()).Inc()
	if outcome.Opened() {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok", "symbol": sig.Symbol, "side": sig.Side,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "closed_only"})
}

func (s *Server) writeTransitionError(w http.ResponseWriter, sig core.Signal, err error) {
	s.logger.Error("Transition failed",
		"symbol", sig.Symbol, "side", sig.Side, "signal_id", sig.SignalID, "error", err)

	switch {
	case errors.Is(err, engine.ErrInvalidNotional):
		webhookSignalsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid_notional", "detail": err.Error(),
		})
	case errors.Is(err, engine.ErrCloseTimeout):
		webhookSignalsTotal.WithLabelValues("failed").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "close_timeout"})
	case errors.Is(err, engine.ErrCloseFailed):
		webhookSignalsTotal.WithLabelValues("failed").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "close_failed", "detail": err.Error(),
		})
	case errors.Is(err, engine.ErrOpenFailed):
		webhookSignalsTotal.WithLabelValues("failed").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "open_failed", "detail": err.Error(),
		})
	case errors.Is(err, engine.ErrPositionQuery):
		webhookSignalsTotal.WithLabelValues("failed").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "error_getting_position", "detail": err.Error(),
		})
	default:
		webhookSignalsTotal.WithLabelValues("failed").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal_error"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.GetStatus()
	code := http.StatusOK
	if !s.health.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"components": status})
}

// handlePosition serves a read-only position snapshot. Cache hits avoid an
// exchange round trip; misses refresh the cache through the gateway.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "no symbol"})
		return
	}

	now := time.Now()
	if pos, ok := s.snapshots.Get(symbol, now); ok {
		writePosition(w, pos, "cache", now)
		return
	}

	pos, err := s.gateway.GetPosition(r.Context(), symbol)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "error_getting_position", "detail": err.Error(),
		})
		return
	}
	writePosition(w, pos, "exchange", now)
}

func writePosition(w http.ResponseWriter, pos *core.Position, source string, now time.Time) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":      pos.Symbol,
		"quantity":    pos.Quantity.String(),
		"entry_price": pos.EntryPrice.String(),
		"age_ms":      now.Sub(pos.FetchedAt).Milliseconds(),
		"source":      source,
	})
}

// recoverer turns a handler panic into a generic 500 instead of killing
// the connection
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Unhandled panic in handler", "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// allow applies the per-IP token bucket
func (s *Server) allow(r *http.Request) bool {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	v, _ := s.ipLimiters.LoadOrStore(ip, rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst))
	return v.(*rate.Limiter).Allow()
}

func writeJSON(w http.ResponseWriter, code int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
