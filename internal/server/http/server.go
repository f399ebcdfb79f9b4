// Package httpserver exposes the store over a JSON HTTP API.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/score-store/internal/service"
)

// MessageSink receives chat messages from the collector.
type MessageSink interface {
	service.MessageFinder
	Push(identity, text string)
	Len() int
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the API. Store may be nil, in which case /health always reports ok.
type Deps struct {
	Registration service.RegistrationService
	Auth         service.AuthService
	Ledger       service.LedgerService
	Goods        service.GoodsService
	Checkout     service.CheckoutService
	Feed         MessageSink
	Store        Pinger
	Log          *zap.Logger

	RequestTimeout time.Duration
	// CollectorKey enables bearer authentication of /add-wechat-message when non-empty.
	CollectorKey []byte
}

// Server holds the HTTP handlers.
type Server struct {
	d Deps
}

// New constructs a Server.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	return &Server{d: d}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.d.Log))
	r.Use(recoverer(s.d.Log))
	r.Use(middleware.Timeout(s.d.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/signup", s.handleSignup)
	r.Post("/verify", s.handleVerify)
	r.Post("/login", s.handleLogin)
	r.Get("/get-score-info", s.handleScoreInfo)

	r.Get("/get-goods", s.handleGoods)
	r.Post("/add-good", s.handleAddGood)
	r.Post("/checkout", s.handleCheckout)

	r.With(s.collectorAuth).Post("/add-wechat-message", s.handleMessage)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Store != nil {
		if err := s.d.Store.Ping(r.Context()); err != nil {
			s.d.Log.Warn("health: store ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
