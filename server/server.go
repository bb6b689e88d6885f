// Package server exposes the HTTP surface: project workflow, ballots,
// betting, the shop, and admin operations, all behind bearer auth.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/hackclub/siege/auth"
	"github.com/hackclub/siege/ballots"
	"github.com/hackclub/siege/betting"
	"github.com/hackclub/siege/calendar"
	"github.com/hackclub/siege/ledger"
	"github.com/hackclub/siege/lifecycle"
	"github.com/hackclub/siege/models"
	"github.com/hackclub/siege/observability"
	"github.com/hackclub/siege/shop"
)

// Server wires the domain engines to HTTP routes.
type Server struct {
	db        *gorm.DB
	verifier  *auth.Verifier
	cal       *calendar.Calendar
	lifecycle *lifecycle.Service
	ballots   *ballots.Engine
	betting   *betting.Engine
	shop      *shop.Shop
	ledger    *ledger.Ledger
	http      *observability.HTTP
	logger    *slog.Logger
	// eventWeeks is how many UserWeek rows registration provisions.
	eventWeeks int
}

// Config wires a Server.
type Config struct {
	DB         *gorm.DB
	Verifier   *auth.Verifier
	Calendar   *calendar.Calendar
	Lifecycle  *lifecycle.Service
	Ballots    *ballots.Engine
	Betting    *betting.Engine
	Shop       *shop.Shop
	Ledger     *ledger.Ledger
	HTTP       *observability.HTTP
	Logger     *slog.Logger
	EventWeeks int
}

// New builds a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	weeks := cfg.EventWeeks
	if weeks <= 0 {
		weeks = 14
	}
	return &Server{
		db:         cfg.DB,
		verifier:   cfg.Verifier,
		cal:        cfg.Calendar,
		lifecycle:  cfg.Lifecycle,
		ballots:    cfg.Ballots,
		betting:    cfg.Betting,
		shop:       cfg.Shop,
		ledger:     cfg.Ledger,
		http:       cfg.HTTP,
		logger:     logger,
		eventWeeks: weeks,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	wrap := func(route string, h http.HandlerFunc) http.Handler {
		if s.http == nil {
			return h
		}
		return s.http.Middleware(route)(h)
	}

	r.Method(http.MethodGet, "/healthz", wrap("/healthz", s.handleHealth))
	if s.http != nil {
		r.Method(http.MethodGet, "/metrics", s.http.MetricsHandler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.Method(http.MethodGet, "/me", wrap("/v1/me", s.handleMe))
		r.Method(http.MethodGet, "/me/balance", wrap("/v1/me/balance", s.handleBalance))

		r.Method(http.MethodPost, "/projects", wrap("/v1/projects", s.handleCreateProject))
		r.Method(http.MethodGet, "/projects/{id}", wrap("/v1/projects/{id}", s.handleGetProject))
		r.Method(http.MethodGet, "/projects/{id}/eligibility", wrap("/v1/projects/{id}/eligibility", s.handleEligibility))
		r.Method(http.MethodPost, "/projects/{id}/submit",
			withIdempotency(s.db, wrap("/v1/projects/{id}/submit", s.handleSubmitProject)))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRank(models.RankReviewer))
			r.Method(http.MethodPost, "/projects/{id}/transition",
				withIdempotency(s.db, wrap("/v1/projects/{id}/transition", s.handleTransition)))
			r.Method(http.MethodPost, "/projects/{id}/finish",
				withIdempotency(s.db, wrap("/v1/projects/{id}/finish", s.handleFinish)))
		})

		r.Method(http.MethodPost, "/ballots",
			withIdempotency(s.db, wrap("/v1/ballots", s.handleAssignBallot)))
		r.Method(http.MethodPost, "/ballots/{id}/submit",
			withIdempotency(s.db, wrap("/v1/ballots/{id}/submit", s.handleSubmitBallot)))

		r.Method(http.MethodPost, "/bets/personal",
			withIdempotency(s.db, wrap("/v1/bets/personal", s.handlePlacePersonal)))
		r.Method(http.MethodPost, "/bets/personal/{id}/collect",
			withIdempotency(s.db, wrap("/v1/bets/personal/{id}/collect", s.handleCollectPersonal)))
		r.Method(http.MethodPost, "/bets/global",
			withIdempotency(s.db, wrap("/v1/bets/global", s.handlePlaceGlobal)))
		r.Method(http.MethodPost, "/bets/global/{id}/collect",
			withIdempotency(s.db, wrap("/v1/bets/global/{id}/collect", s.handleCollectGlobal)))

		r.Method(http.MethodGet, "/shop/mercenary/price", wrap("/v1/shop/mercenary/price", s.handleMercenaryPrice))
		r.Method(http.MethodPost, "/shop/mercenary",
			withIdempotency(s.db, wrap("/v1/shop/mercenary", s.handleBuyMercenary)))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRank(models.RankAdmin))
			r.Method(http.MethodPost, "/users", wrap("/v1/users", s.handleRegisterUser))
			r.Method(http.MethodPost, "/admin/adjustments",
				withIdempotency(s.db, wrap("/v1/admin/adjustments", s.handleAdminAdjust)))
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// currentUser loads the authenticated caller's row.
func (s *Server) currentUser(r *http.Request) (*models.User, error) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, errors.New("no identity on request")
	}
	var user models.User
	if err := s.db.WithContext(r.Context()).First(&user, "slack_id = ?", id.SlackID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
