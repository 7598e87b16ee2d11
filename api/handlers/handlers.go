// Package handlers serves the rewards engine over HTTP.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/malbeclabs/rewards/api/metrics"
	"github.com/malbeclabs/rewards/distributor/pkg/engine"
	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/state"
	"github.com/malbeclabs/rewards/distributor/pkg/treestore"
)

// Engine is the subset of engine operations exposed over HTTP.
type Engine interface {
	DirectStatus(ctx context.Context, distribution, recipient solana.PublicKey) (engine.Status, error)
	ClaimDirect(ctx context.Context, distribution, recipient solana.PublicKey, req ledger.Request) (engine.ClaimResult, error)
	MerkleStatus(ctx context.Context, p engine.MerkleClaimParams) (engine.Status, error)
	ClaimMerkle(ctx context.Context, p engine.MerkleClaimParams) (engine.ClaimResult, error)
	OptIn(ctx context.Context, pool, user solana.PublicKey) (*state.Position, error)
	OptOut(ctx context.Context, pool, user solana.PublicKey) (uint64, error)
	SyncBalance(ctx context.Context, pool, user solana.PublicKey) (*state.Position, error)
	ClaimContinuous(ctx context.Context, pool, user solana.PublicKey, req ledger.Request) (engine.ClaimResult, error)
	PendingRewards(ctx context.Context, pool, user solana.PublicKey) (engine.PositionStatus, error)
}

type Config struct {
	Logger *slog.Logger
	Engine Engine

	// Trees serves proofs for merkle distributions. Optional.
	Trees treestore.TreeStore

	// Ready reports whether dependencies are reachable. Optional.
	Ready func(ctx context.Context) error

	// Limiter rate limits state-changing routes. Optional.
	Limiter *RateLimiter

	// Authorize checks that the caller acts for owner, the user named in the path of a
	// state-changing route. When nil the API does not authenticate callers and must sit
	// behind a gateway that does.
	Authorize func(r *http.Request, owner solana.PublicKey) error

	AllowedOrigins []string
	RequestTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return nil
}

type Handlers struct {
	log *slog.Logger
	cfg Config

	treesMu sync.Mutex
	trees   map[solana.PublicKey]*treestore.Artifact
}

func New(cfg Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handlers{
		log:   cfg.Logger,
		cfg:   cfg,
		trees: make(map[solana.PublicKey]*treestore.Artifact),
	}, nil
}

// OwnerHeader returns an Authorize func that trusts header, set by an authenticating
// gateway to the caller's public key.
func OwnerHeader(header string) func(r *http.Request, owner solana.PublicKey) error {
	return func(r *http.Request, owner solana.PublicKey) error {
		v := r.Header.Get(header)
		if v == "" {
			return fmt.Errorf("missing %s header", header)
		}
		caller, err := solana.PublicKeyFromBase58(v)
		if err != nil {
			return fmt.Errorf("invalid %s header: %w", header, err)
		}
		if !caller.Equals(owner) {
			return fmt.Errorf("caller %s is not %s", caller, owner)
		}
		return nil
	}
}

// ownedKeys parses the parent and owner path keys of a state-changing route and checks
// the caller may act for the owner.
func (h *Handlers) ownedKeys(r *http.Request, parent, owner string) (solana.PublicKey, solana.PublicKey, error) {
	p, o, err := pathKeys(r, parent, owner)
	if err != nil {
		return p, o, err
	}
	if h.cfg.Authorize != nil {
		if err := h.cfg.Authorize(r, o); err != nil {
			h.log.Debug("api: caller not authorized", "owner", o, "error", err)
			return p, o, fmt.Errorf("%s: %w", o, errs.ErrUnauthorizedRecipient)
		}
	}
	return p, o, nil
}

// Router builds the HTTP routes. State-changing routes are only authenticated when
// Config.Authorize is set.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(h.cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.GetHealthz)
	r.Get("/readyz", h.GetReadyz)

	limited := func(next http.Handler) http.Handler { return next }
	if h.cfg.Limiter != nil {
		limited = RateLimitMiddleware(h.cfg.Limiter)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/direct/{distribution}/recipients/{recipient}", h.GetDirectStatus)
		r.Get("/merkle/{distribution}/proofs/{claimant}", h.GetMerkleProof)
		r.Get("/pools/{pool}/users/{user}", h.GetPosition)

		r.Group(func(r chi.Router) {
			r.Use(limited)
			r.Post("/direct/{distribution}/recipients/{recipient}/claim", h.PostDirectClaim)
			r.Post("/merkle/{distribution}/claims/{claimant}", h.PostMerkleClaim)
			r.Post("/pools/{pool}/users/{user}/opt-in", h.PostOptIn)
			r.Post("/pools/{pool}/users/{user}/opt-out", h.PostOptOut)
			r.Post("/pools/{pool}/users/{user}/sync", h.PostSync)
			r.Post("/pools/{pool}/users/{user}/claim", h.PostPoolClaim)
		})
	})
	return r
}

// requestID tags each request with an id and a sentry hub scoped to it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetTag("request_id", id)
		hub.Scope().SetRequest(r)
		ctx := sentry.SetHubOnContext(r.Context(), hub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// span wraps an engine call in a sentry span named after the operation.
func span(ctx context.Context, op string) (context.Context, func(err error)) {
	s := sentry.StartSpan(ctx, op)
	return s.Context(), func(err error) {
		if err != nil {
			s.Status = sentry.SpanStatusInternalError
		} else {
			s.Status = sentry.SpanStatusOK
		}
		s.Finish()
	}
}

type claimRequest struct {
	// Amount is the amount to claim. Zero claims everything claimable.
	Amount uint64 `json:"amount"`
}

func (h *Handlers) GetHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) GetReadyz(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.cfg.Ready(ctx); err != nil {
			h.log.Warn("api: not ready", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
