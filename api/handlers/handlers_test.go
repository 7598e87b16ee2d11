package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/rewards/api/handlers"
	"github.com/malbeclabs/rewards/distributor/pkg/engine"
	"github.com/malbeclabs/rewards/distributor/pkg/merkle"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/rewards"
	"github.com/malbeclabs/rewards/distributor/pkg/store/memory"
	"github.com/malbeclabs/rewards/distributor/pkg/treestore"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
	rewardstesting "github.com/malbeclabs/rewards/utils/pkg/testing"
)

var (
	authority = solana.PublicKey{0xa1}
	mint      = solana.PublicKey{0xb1}
	alice     = solana.PublicKey{2}
	bob       = solana.PublicKey{3}
)

type server struct {
	engine *engine.Engine
	trees  *treestore.Dir
	router http.Handler
}

func newServer(t *testing.T, at int64, mutate func(*handlers.Config)) *server {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Unix(at, 0))
	store, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	e, err := engine.New(engine.Config{Logger: rewardstesting.NewLogger(), Clock: clock, Store: store})
	require.NoError(t, err)
	trees, err := treestore.NewDir(treestore.DirConfig{Logger: rewardstesting.NewLogger(), Dir: t.TempDir()})
	require.NoError(t, err)

	cfg := handlers.Config{Logger: rewardstesting.NewLogger(), Engine: e, Trees: trees}
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := handlers.New(cfg)
	require.NoError(t, err)
	return &server{engine: e, trees: trees, router: h.Router()}
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doAs(t, method, path, body, nil)
}

func (s *server) doAs(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:5000"
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind, name string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[handlers.ErrorResponse](t, rec)
	assert.Equal(t, kind, resp.Kind)
	assert.Equal(t, name, resp.Name)
}

func TestRewards_API_Health(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", nil).Code)

	failing := newServer(t, 0, func(cfg *handlers.Config) {
		cfg.Ready = func(context.Context) error { return errors.New("db down") }
	})
	assert.Equal(t, http.StatusOK, failing.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, failing.do(t, http.MethodGet, "/readyz", nil).Code)
}

func TestRewards_API_DirectClaim(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := newServer(t, 150, nil)
	dist := solana.PublicKey{1}

	_, err := s.engine.CreateDirectDistribution(ctx, engine.CreateDirectParams{Address: dist, Authority: authority, Mint: mint, Decimals: 6})
	require.NoError(t, err)
	_, err = s.engine.AddDirectRecipient(ctx, engine.AddRecipientParams{
		Authority: authority, Distribution: dist, Recipient: alice, Amount: 1_000,
		Schedule: vesting.Linear{Start: 100, End: 200},
	})
	require.NoError(t, err)

	base := "/v1/direct/" + dist.String() + "/recipients/"
	rec := s.do(t, http.MethodGet, base+alice.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.Status{Total: 1_000, Unlocked: 500, Claimable: 500}, decode[engine.Status](t, rec))

	rec = s.do(t, http.MethodPost, base+alice.String()+"/claim", map[string]uint64{"amount": 200})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, engine.ClaimResult{Amount: 200, Remaining: 800}, decode[engine.ClaimResult](t, rec))

	rec = s.do(t, http.MethodPost, base+alice.String()+"/claim", map[string]uint64{"amount": 400})
	requireError(t, rec, http.StatusConflict, "claim", "ExceedsClaimableAmount")

	rec = s.do(t, http.MethodPost, base+alice.String()+"/claim", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(300), decode[engine.ClaimResult](t, rec).Amount)

	requireError(t, s.do(t, http.MethodGet, base+bob.String(), nil), http.StatusNotFound, "storage", "NotFound")
	requireError(t, s.do(t, http.MethodGet, base+"not-a-key", nil), http.StatusBadRequest, "request", "")
	requireError(t, s.do(t, http.MethodPost, base+alice.String()+"/claim", map[string]string{"bogus": "x"}),
		http.StatusBadRequest, "request", "")
}

func TestRewards_API_MerkleClaim(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := newServer(t, 500, nil)
	dist := solana.PublicKey{1}

	tree, err := merkle.NewTree([]merkle.Leaf{
		{Claimant: alice, TotalAmount: 600, Schedule: vesting.Immediate{}},
		{Claimant: bob, TotalAmount: 400, Schedule: vesting.Linear{Start: 0, End: 1_000}},
	})
	require.NoError(t, err)
	require.NoError(t, s.trees.Put(ctx, treestore.KeyFor(dist), treestore.NewArtifact(tree, 6)))

	base := "/v1/merkle/" + dist.String()

	// Published but not yet funded.
	rec := s.do(t, http.MethodGet, base+"/proofs/"+alice.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var proof struct {
		Root   merkle.Hash    `json:"root"`
		Proof  []merkle.Hash  `json:"proof"`
		Valid  bool           `json:"valid"`
		Status *engine.Status `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&proof))
	assert.Equal(t, tree.Root, proof.Root)
	assert.True(t, proof.Valid)
	assert.Nil(t, proof.Status)
	assert.Equal(t, tree.Proof(0), proof.Proof)

	_, err = s.engine.CreateMerkleDistribution(ctx, engine.CreateMerkleParams{
		Address: dist, Authority: authority, Mint: mint, Decimals: 6,
		Root: tree.Root, TotalAmount: tree.Total, Revocable: revocation.None,
	})
	require.NoError(t, err)

	rec = s.do(t, http.MethodGet, base+"/proofs/"+alice.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&proof))
	require.NotNil(t, proof.Status)
	assert.Equal(t, engine.Status{Total: 600, Unlocked: 600, Claimable: 600}, *proof.Status)

	rec = s.do(t, http.MethodPost, base+"/claims/"+bob.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, engine.ClaimResult{Amount: 200, Remaining: 200}, decode[engine.ClaimResult](t, rec))

	_, aliceProof, _ := tree.Lookup(alice)
	forged := map[string]any{
		"total_amount": 700,
		"schedule":     vesting.Describe(vesting.Immediate{}),
		"proof":        aliceProof,
	}
	requireError(t, s.do(t, http.MethodPost, base+"/claims/"+alice.String(), forged), http.StatusUnprocessableEntity, "proof", "InvalidMerkleProof")

	explicit := map[string]any{
		"amount":       100,
		"total_amount": 600,
		"schedule":     vesting.Describe(vesting.Immediate{}),
		"proof":        aliceProof,
	}
	rec = s.do(t, http.MethodPost, base+"/claims/"+alice.String(), explicit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, engine.ClaimResult{Amount: 100, Remaining: 500}, decode[engine.ClaimResult](t, rec))

	rec = s.do(t, http.MethodGet, base+"/proofs/"+solana.PublicKey{9}.String(), nil)
	requireError(t, rec, http.StatusNotFound, "storage", "")
	rec = s.do(t, http.MethodGet, "/v1/merkle/"+solana.PublicKey{8}.String()+"/proofs/"+alice.String(), nil)
	requireError(t, rec, http.StatusNotFound, "storage", "")
}

func TestRewards_API_PoolLifecycle(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := newServer(t, 0, nil)
	pool := solana.PublicKey{1}

	_, err := s.engine.CreatePool(ctx, engine.CreatePoolParams{
		Address: pool, Authority: authority, TrackedMint: mint, RewardMint: mint,
		Decimals: 6, BalanceSource: rewards.AuthoritySet, Revocable: revocation.None,
	})
	require.NoError(t, err)

	base := "/v1/pools/" + pool.String() + "/users/" + alice.String()
	rec := s.do(t, http.MethodPost, base+"/opt-in", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	requireError(t, s.do(t, http.MethodPost, base+"/opt-in", nil), http.StatusConflict, "claim", "AlreadyExists")

	_, err = s.engine.SetBalance(ctx, authority, pool, alice, 1_000)
	require.NoError(t, err)
	_, err = s.engine.DistributeReward(ctx, authority, pool, 100)
	require.NoError(t, err)

	rec = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, engine.PositionStatus{Balance: 1_000, Pending: 100}, decode[engine.PositionStatus](t, rec))

	requireError(t, s.do(t, http.MethodPost, base+"/sync", nil), http.StatusConflict, "claim", "BalanceSourceMismatch")

	rec = s.do(t, http.MethodPost, base+"/claim", map[string]uint64{"amount": 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, engine.ClaimResult{Amount: 30, Remaining: 70}, decode[engine.ClaimResult](t, rec))

	rec = s.do(t, http.MethodPost, base+"/opt-out", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]uint64{"amount": 70}, decode[map[string]uint64](t, rec))

	requireError(t, s.do(t, http.MethodGet, base, nil), http.StatusNotFound, "storage", "NotFound")
}

func TestRewards_API_RateLimitsMutatingRoutes(t *testing.T) {
	t.Parallel()
	limiter := handlers.NewRateLimiter(rate.Every(time.Hour), 1)
	t.Cleanup(limiter.Stop)
	s := newServer(t, 0, func(cfg *handlers.Config) { cfg.Limiter = limiter })

	base := "/v1/pools/" + solana.PublicKey{1}.String() + "/users/" + alice.String()
	requireError(t, s.do(t, http.MethodPost, base+"/opt-in", nil), http.StatusNotFound, "storage", "NotFound")
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, base+"/opt-in", nil).Code)

	for i := 0; i < 3; i++ {
		requireError(t, s.do(t, http.MethodGet, base, nil), http.StatusNotFound, "storage", "NotFound")
	}
}

func TestRewards_API_OwnerHeaderGuardsMutatingRoutes(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := newServer(t, 0, func(cfg *handlers.Config) { cfg.Authorize = handlers.OwnerHeader("X-Owner") })
	pool := solana.PublicKey{1}

	_, err := s.engine.CreatePool(ctx, engine.CreatePoolParams{
		Address: pool, Authority: authority, TrackedMint: mint, RewardMint: mint,
		Decimals: 6, BalanceSource: rewards.AuthoritySet, Revocable: revocation.None,
	})
	require.NoError(t, err)

	base := "/v1/pools/" + pool.String() + "/users/" + alice.String()
	requireError(t, s.do(t, http.MethodPost, base+"/opt-in", nil), http.StatusForbidden, "claim", "UnauthorizedRecipient")
	requireError(t, s.doAs(t, http.MethodPost, base+"/opt-in", nil, http.Header{"X-Owner": {bob.String()}}),
		http.StatusForbidden, "claim", "UnauthorizedRecipient")
	requireError(t, s.doAs(t, http.MethodPost, base+"/opt-in", nil, http.Header{"X-Owner": {"not-a-key"}}),
		http.StatusForbidden, "claim", "UnauthorizedRecipient")

	rec := s.doAs(t, http.MethodPost, base+"/opt-in", nil, http.Header{"X-Owner": {alice.String()}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Reads stay open.
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, base, nil).Code)

	direct := "/v1/direct/" + solana.PublicKey{5}.String() + "/recipients/" + alice.String() + "/claim"
	requireError(t, s.do(t, http.MethodPost, direct, nil), http.StatusForbidden, "claim", "UnauthorizedRecipient")
}
