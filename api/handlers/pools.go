package handlers

import (
	"net/http"

	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
)

type optOutResponse struct {
	Amount uint64 `json:"amount"`
}

// GetPosition handles GET /v1/pools/{pool}/users/{user}
func (h *Handlers) GetPosition(w http.ResponseWriter, r *http.Request) {
	pool, user, err := pathKeys(r, "pool", "user")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.cfg.Engine.PendingRewards(r.Context(), pool, user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PostOptIn handles POST /v1/pools/{pool}/users/{user}/opt-in
func (h *Handlers) PostOptIn(w http.ResponseWriter, r *http.Request) {
	pool, user, err := h.ownedKeys(r, "pool", "user")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, finish := span(r.Context(), "rewards.opt_in")
	pos, err := h.cfg.Engine.OptIn(ctx, pool, user)
	finish(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// PostOptOut handles POST /v1/pools/{pool}/users/{user}/opt-out
func (h *Handlers) PostOptOut(w http.ResponseWriter, r *http.Request) {
	pool, user, err := h.ownedKeys(r, "pool", "user")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, finish := span(r.Context(), "rewards.opt_out")
	paid, err := h.cfg.Engine.OptOut(ctx, pool, user)
	finish(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, optOutResponse{Amount: paid})
}

// PostSync handles POST /v1/pools/{pool}/users/{user}/sync
func (h *Handlers) PostSync(w http.ResponseWriter, r *http.Request) {
	pool, user, err := h.ownedKeys(r, "pool", "user")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, finish := span(r.Context(), "rewards.sync_balance")
	pos, err := h.cfg.Engine.SyncBalance(ctx, pool, user)
	finish(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// PostPoolClaim handles POST /v1/pools/{pool}/users/{user}/claim
func (h *Handlers) PostPoolClaim(w http.ResponseWriter, r *http.Request) {
	pool, user, err := h.ownedKeys(r, "pool", "user")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, finish := span(r.Context(), "rewards.claim_continuous")
	res, err := h.cfg.Engine.ClaimContinuous(ctx, pool, user, ledger.FromWire(req.Amount))
	finish(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
