package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/rewards/api/handlers"
	"github.com/malbeclabs/rewards/api/server"
	"github.com/malbeclabs/rewards/distributor/pkg/engine"
	"github.com/malbeclabs/rewards/distributor/pkg/store/memory"
	rewardstesting "github.com/malbeclabs/rewards/utils/pkg/testing"
)

func newServer(t *testing.T) *server.Server {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	e, err := engine.New(engine.Config{Logger: rewardstesting.NewLogger(), Clock: clock, Store: store})
	require.NoError(t, err)

	s, err := server.New(server.Config{
		ListenAddr:      "127.0.0.1:0",
		MetricsAddr:     "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		VersionInfo:     server.VersionInfo{Version: "v1.2.3", Commit: "abc", Date: "2026-01-01"},
		HandlersConfig:  handlers.Config{Logger: rewardstesting.NewLogger(), Engine: e},
	})
	require.NoError(t, err)
	return s
}

func TestRewards_Server_Routes(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v server.VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.Equal(t, "v1.2.3", v.Version)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRewards_Server_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRewards_Server_ConfigValidate(t *testing.T) {
	t.Parallel()
	_, err := server.New(server.Config{HandlersConfig: handlers.Config{Logger: rewardstesting.NewLogger()}})
	require.Error(t, err)
}
