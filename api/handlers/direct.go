package handlers

import (
	"net/http"

	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
)

// GetDirectStatus handles GET /v1/direct/{distribution}/recipients/{recipient}
func (h *Handlers) GetDirectStatus(w http.ResponseWriter, r *http.Request) {
	dist, recipient, err := pathKeys(r, "distribution", "recipient")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.cfg.Engine.DirectStatus(r.Context(), dist, recipient)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PostDirectClaim handles POST /v1/direct/{distribution}/recipients/{recipient}/claim
func (h *Handlers) PostDirectClaim(w http.ResponseWriter, r *http.Request) {
	dist, recipient, err := h.ownedKeys(r, "distribution", "recipient")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, finish := span(r.Context(), "rewards.claim_direct")
	res, err := h.cfg.Engine.ClaimDirect(ctx, dist, recipient, ledger.FromWire(req.Amount))
	finish(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
