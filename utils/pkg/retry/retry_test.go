package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpError struct {
	statusCode int
}

func (e *httpError) Error() string   { return fmt.Sprintf("http %d", e.statusCode) }
func (e *httpError) StatusCode() int { return e.statusCode }

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestRewards_Retry_DefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.BaseBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)

	tx := SerializableTxConfig()
	assert.Greater(t, tx.MaxAttempts, cfg.MaxAttempts)
	assert.Less(t, tx.MaxBackoff, cfg.MaxBackoff)
}

func TestRewards_Retry_Do_SuccessOnFirstAttempt(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRewards_Retry_Do_SerializationFailureIsRetried(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("failed to commit: %w", &pgconn.PgError{Code: "40001", Message: "could not serialize access"})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRewards_Retry_Do_ExhaustsAllAttempts(t *testing.T) {
	t.Parallel()
	attempts := 0
	originalErr := errors.New("connection reset")
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return originalErr
	})
	require.ErrorIs(t, err, originalErr)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestRewards_Retry_Do_NonRetryableError(t *testing.T) {
	t.Parallel()
	attempts := 0
	originalErr := errors.New("nothing to claim")
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return originalErr
	})
	assert.Same(t, originalErr, err)
	assert.Equal(t, 1, attempts)
}

func TestRewards_Retry_Do_CustomRetryable(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(4)
	cfg.Retryable = func(err error) bool { return err.Error() == "again" }

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("again")
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
}

func TestRewards_Retry_Do_ZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()
	attempts := 0
	_ = Do(context.Background(), Config{}, func() error {
		attempts++
		return errors.New("connection reset")
	})
	assert.Equal(t, 1, attempts)
}

func TestRewards_Retry_Do_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("connection reset")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestRewards_Retry_IsRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "timeout in constraint name"}, false},
		{"net timeout message", &net.OpError{Op: "read", Err: errors.New("i/o timeout")}, true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"429", &httpError{statusCode: http.StatusTooManyRequests}, true},
		{"503", &httpError{statusCode: http.StatusServiceUnavailable}, true},
		{"400", &httpError{statusCode: http.StatusBadRequest}, false},
		{"context canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("rpc: %w", context.DeadlineExceeded), false},
		{"domain error", errors.New("requested amount exceeds claimable amount"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRewards_Retry_IsSerializationFailure(t *testing.T) {
	t.Parallel()
	assert.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsSerializationFailure(errors.New("40001")))
}

func TestRewards_Retry_CalculateBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		attempt int
		minExp  time.Duration
		maxExp  time.Duration
	}{
		{"first retry", 500 * time.Millisecond, 5 * time.Second, 1, 500 * time.Millisecond, time.Second},
		{"second retry", 500 * time.Millisecond, 5 * time.Second, 2, time.Second, 2 * time.Second},
		{"capped before jitter", 500 * time.Millisecond, 5 * time.Second, 4, 2500 * time.Millisecond, 5 * time.Second},
		{"shift overflow capped", time.Second, 3 * time.Second, 62, 1500 * time.Millisecond, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for range 50 {
				got := calculateBackoff(tt.base, tt.max, tt.attempt)
				require.GreaterOrEqual(t, got, tt.minExp)
				require.LessOrEqual(t, got, tt.maxExp)
			}
		})
	}
}
