package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/rewards/api/metrics"
	"github.com/malbeclabs/rewards/distributor/pkg/engine"
	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/merkle"
	"github.com/malbeclabs/rewards/distributor/pkg/treestore"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

type merkleClaimRequest struct {
	Amount      uint64              `json:"amount"`
	TotalAmount uint64              `json:"total_amount"`
	Schedule    *vesting.Descriptor `json:"schedule,omitempty"`
	Proof       []merkle.Hash       `json:"proof"`
}

// fromArtifact reports whether the caller left the leaf out and wants it looked up.
func (req merkleClaimRequest) fromArtifact() bool {
	return req.TotalAmount == 0 && req.Schedule == nil && req.Proof == nil
}

type proofResponse struct {
	Root merkle.Hash `json:"root"`
	treestore.ArtifactLeaf
	Valid  bool           `json:"valid"`
	Status *engine.Status `json:"status,omitempty"`
}

// artifact returns the published tree of a distribution, cached after the first load.
func (h *Handlers) artifact(ctx context.Context, dist solana.PublicKey) (*treestore.Artifact, error) {
	if h.cfg.Trees == nil {
		return nil, fmt.Errorf("no tree store configured: %w", treestore.ErrNotFound)
	}
	h.treesMu.Lock()
	a, ok := h.trees[dist]
	h.treesMu.Unlock()
	if ok {
		metrics.TreeLoadsTotal.WithLabelValues("hit").Inc()
		return a, nil
	}

	a, err := h.cfg.Trees.Get(ctx, treestore.KeyFor(dist))
	if err != nil {
		if errors.Is(err, treestore.ErrNotFound) {
			metrics.TreeLoadsTotal.WithLabelValues("miss").Inc()
		} else {
			metrics.TreeLoadsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.TreeLoadsTotal.WithLabelValues("miss").Inc()

	h.treesMu.Lock()
	h.trees[dist] = a
	h.treesMu.Unlock()
	return a, nil
}

func (h *Handlers) artifactLeaf(ctx context.Context, dist, claimant solana.PublicKey) (merkle.Hash, treestore.ArtifactLeaf, bool, error) {
	a, err := h.artifact(ctx, dist)
	if err != nil {
		return merkle.Hash{}, treestore.ArtifactLeaf{}, false, err
	}
	leaf, valid, err := a.Lookup(claimant)
	if err != nil {
		return merkle.Hash{}, treestore.ArtifactLeaf{}, false, err
	}
	return a.Root, leaf, valid, nil
}

func leafParams(dist, claimant solana.PublicKey, total uint64, d vesting.Descriptor, proof []merkle.Hash, req ledger.Request) (engine.MerkleClaimParams, error) {
	s, err := d.Schedule()
	if err != nil {
		return engine.MerkleClaimParams{}, err
	}
	return engine.MerkleClaimParams{
		Distribution: dist,
		Claimant:     claimant,
		Allocation:   ledger.Allocation{TotalAmount: total, Schedule: s},
		Proof:        proof,
		Request:      req,
	}, nil
}

// GetMerkleProof handles GET /v1/merkle/{distribution}/proofs/{claimant}
func (h *Handlers) GetMerkleProof(w http.ResponseWriter, r *http.Request) {
	dist, claimant, err := pathKeys(r, "distribution", "claimant")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	root, leaf, valid, err := h.artifactLeaf(r.Context(), dist, claimant)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := proofResponse{Root: root, ArtifactLeaf: leaf, Valid: valid}

	if valid {
		p, err := leafParams(dist, claimant, leaf.TotalAmount, leaf.Schedule, leaf.Proof, ledger.All())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		st, err := h.cfg.Engine.MerkleStatus(r.Context(), p)
		switch {
		case err == nil:
			resp.Status = &st
		case errors.Is(err, errs.ErrNotFound), errs.Is(err, errs.KindProof):
			// Tree published but not funded yet, or funded with another root.
		default:
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostMerkleClaim handles POST /v1/merkle/{distribution}/claims/{claimant}. Without a
// leaf in the body the published tree supplies it.
func (h *Handlers) PostMerkleClaim(w http.ResponseWriter, r *http.Request) {
	dist, claimant, err := h.ownedKeys(r, "distribution", "claimant")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req merkleClaimRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var p engine.MerkleClaimParams
	if req.fromArtifact() {
		_, leaf, _, err := h.artifactLeaf(r.Context(), dist, claimant)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		p, err = leafParams(dist, claimant, leaf.TotalAmount, leaf.Schedule, leaf.Proof, ledger.FromWire(req.Amount))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	} else {
		if req.Schedule == nil {
			h.writeError(w, r, badRequest("schedule is required with total_amount and proof"))
			return
		}
		p, err = leafParams(dist, claimant, req.TotalAmount, *req.Schedule, req.Proof, ledger.FromWire(req.Amount))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	ctx, finish := span(r.Context(), "rewards.claim_merkle")
	res, err := h.cfg.Engine.ClaimMerkle(ctx, p)
	finish(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
