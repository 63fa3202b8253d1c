package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"gitpay/forge"
	"gitpay/gateway/middleware"
	"gitpay/intake"
	"gitpay/ledger"
	"gitpay/payout"
	"gitpay/redeem"
)

// RewardReader is the read-only slice of the ledger the API serves from.
type RewardReader interface {
	FindByID(ctx context.Context, id string) (ledger.Reward, error)
	FindOpenByLocation(ctx context.Context, repository string, pullRequest int) (ledger.Reward, error)
	FindPendingByRecipient(ctx context.Context, recipient string) ([]ledger.Reward, error)
	WalletFor(ctx context.Context, login string) (ledger.WalletLink, error)
}

// Redeemer settles a pending reward for its recipient.
type Redeemer interface {
	Redeem(ctx context.Context, rewardID, claimant, destination string) (ledger.Reward, error)
}

// EventHandler consumes verified platform webhook deliveries.
type EventHandler interface {
	HandleCommentEvent(ctx context.Context, event intake.CommentEvent) (intake.Result, error)
}

// BalanceSource reports the treasury reserve backing payouts.
type BalanceSource interface {
	ReserveBalance(ctx context.Context) (payout.Balance, error)
}

// Config carries the HTTP-facing settings for the server.
type Config struct {
	WebhookSecret  string
	AllowedOrigins []string
	RateLimit      middleware.RateLimit
}

// Server exposes the reward API and the webhook intake endpoint.
type Server struct {
	cfg      Config
	rewards  RewardReader
	redeemer Redeemer
	events   EventHandler
	identity forge.IdentityClient
	balance  BalanceSource
	obs      *middleware.Observability
	log      *slog.Logger
	router   chi.Router
}

// NewServer assembles the router. Any of identity, events, or balance may be
// nil; the corresponding endpoints then report 503.
func NewServer(cfg Config, rewards RewardReader, redeemer Redeemer, events EventHandler, identity forge.IdentityClient, balance BalanceSource, obs *middleware.Observability, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{})
	}
	s := &Server{
		cfg:      cfg,
		rewards:  rewards,
		redeemer: redeemer,
		events:   events,
		identity: identity,
		balance:  balance,
		obs:      obs,
		log:      log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.With(s.obs.Middleware("/webhook/github")).
		Post("/webhook/github", s.handleWebhook)

	limiter := middleware.NewRateLimiter(s.cfg.RateLimit, s.log)
	r.Route("/api", func(api chi.Router) {
		api.Use(limiter.Middleware())
		api.With(s.obs.Middleware("/api/reward")).Get("/reward", s.handleRewardLookup)
		api.With(s.obs.Middleware("/api/rewards")).Get("/rewards/{username}", s.handleRewardsForUser)
		api.With(s.obs.Middleware("/api/verify-github")).Get("/verify-github/{username}", s.handleVerifyUser)
		api.With(s.obs.Middleware("/api/redeem")).Post("/redeem", s.handleRedeem)
		api.With(s.obs.Middleware("/api/balance")).Get("/balance", s.handleBalance)
		api.With(s.obs.Middleware("/api/webhook-info")).Get("/webhook-info", s.handleWebhookInfo)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRewardLookup(w http.ResponseWriter, r *http.Request) {
	repository := strings.TrimSpace(r.URL.Query().Get("repo"))
	prRaw := strings.TrimSpace(r.URL.Query().Get("pr"))
	if repository == "" || prRaw == "" {
		writeErrorMessage(w, http.StatusBadRequest, "validation", "repo and pr query parameters are required")
		return
	}
	pullRequest, err := strconv.Atoi(prRaw)
	if err != nil || pullRequest <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "validation", "pr must be a positive integer")
		return
	}
	reward, err := s.rewards.FindOpenByLocation(r.Context(), repository, pullRequest)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (s *Server) handleRewardsForUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		writeErrorMessage(w, http.StatusBadRequest, "validation", "username is required")
		return
	}
	rewards, err := s.rewards.FindPendingByRecipient(r.Context(), username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rewards == nil {
		rewards = []ledger.Reward{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewards": rewards})
}

func (s *Server) handleVerifyUser(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "unavailable", "identity lookups are not configured")
		return
	}
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		writeErrorMessage(w, http.StatusBadRequest, "validation", "username is required")
		return
	}
	user, err := s.identity.ResolveUser(r.Context(), username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response := map[string]any{"login": user.Login, "avatar_url": user.AvatarURL, "exists": true}
	if link, err := s.rewards.WalletFor(r.Context(), user.Login); err == nil {
		response["wallet"] = link.Destination
	}
	writeJSON(w, http.StatusOK, response)
}

type redeemRequest struct {
	RewardID    string `json:"reward_id"`
	Login       string `json:"login"`
	Destination string `json:"destination"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.RewardID == "" || req.Login == "" || req.Destination == "" {
		writeErrorMessage(w, http.StatusBadRequest, "validation", "reward_id, login, and destination are required")
		return
	}
	reward, err := s.redeemer.Redeem(r.Context(), req.RewardID, req.Login, req.Destination)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if s.balance == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "unavailable", "treasury balance is not configured")
		return
	}
	balance, err := s.balance.ReserveBalance(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleWebhookInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path":              "/webhook/github",
		"events":            []string{"issue_comment"},
		"content_type":      "json",
		"secret_configured": s.cfg.WebhookSecret != "",
	})
}

// writeError maps domain errors onto the HTTP surface.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrInvalidEvent):
		writeErrorMessage(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not_found", "reward not found")
	case errors.Is(err, forge.ErrUserNotFound), errors.Is(err, intake.ErrRecipientNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not_found", "user not found")
	case errors.Is(err, ledger.ErrDuplicatePending):
		writeErrorMessage(w, http.StatusConflict, "duplicate_pending", "an open reward already exists for these parties")
	case errors.Is(err, ledger.ErrAlreadySettled):
		writeErrorMessage(w, http.StatusConflict, "already_settled", "reward is no longer pending")
	case errors.Is(err, redeem.ErrRecipientMismatch):
		writeErrorMessage(w, http.StatusForbidden, "recipient_mismatch", "reward belongs to a different recipient")
	case payout.IsRejected(err):
		writeErrorMessage(w, http.StatusUnprocessableEntity, "payout_rejected", err.Error())
	case payout.IsTransient(err):
		writeErrorMessage(w, http.StatusBadGateway, "payout_unavailable", "payout collaborator unavailable, retry later")
	default:
		s.log.Error("request failed", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
