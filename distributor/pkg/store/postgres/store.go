// Package postgres is a state.Store backed by PostgreSQL. Every Update runs in a
// SERIALIZABLE transaction and is retried on serialization conflicts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/state"
	"github.com/malbeclabs/rewards/utils/pkg/retry"
)

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Clock  clockwork.Clock
	Retry  retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.SerializableTxConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retry.IsSerializationFailure
	}
	return nil
}

type Store struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx state.Tx) error) error {
	attempt := 0
	return retry.Do(ctx, s.cfg.Retry, func() error {
		attempt++
		if attempt > 1 {
			s.log.Debug("postgres: retrying transaction after serialization failure", "attempt", attempt)
		}
		return pgx.BeginTxFunc(ctx, s.cfg.Pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(pgTx pgx.Tx) error {
			return fn(ctx, &tx{pg: pgTx, clock: s.cfg.Clock})
		})
	})
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx state.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.cfg.Pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(pgTx pgx.Tx) error {
		return fn(ctx, &tx{pg: pgTx, clock: s.cfg.Clock})
	})
}

// ListTransfers returns the journal of reserve, oldest first.
func (s *Store) ListTransfers(ctx context.Context, reserve solana.PublicKey) ([]state.Transfer, error) {
	rows, err := s.cfg.Pool.Query(ctx, `
		SELECT id, counterparty, kind, amount::text, memo, created_at
		FROM transfers
		WHERE reserve = $1
		ORDER BY seq`, reserve[:])
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []state.Transfer
	for rows.Next() {
		var (
			tr           state.Transfer
			counterparty []byte
			kind         string
			amount       string
		)
		if err := rows.Scan(&tr.ID, &counterparty, &kind, &amount, &tr.Memo, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		tr.Reserve = reserve
		tr.Counterparty = solana.PublicKeyFromBytes(counterparty)
		tr.Kind = state.TransferKind(kind)
		if tr.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfers: %w", err)
	}
	return out, nil
}

type tx struct {
	pg    pgx.Tx
	clock clockwork.Clock
}

func (t *tx) Get(ctx context.Context, key state.Key) (state.Record, error) {
	var (
		version int16
		data    string
	)
	err := t.pg.QueryRow(ctx, `
		SELECT version, data::text FROM records
		WHERE kind = $1 AND parent = $2 AND "user" = $3`,
		int16(key.Kind), key.Parent[:], key.User[:],
	).Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return state.Unmarshal(key.Kind, uint16(version), []byte(data))
}

func (t *tx) Exists(ctx context.Context, key state.Key) (bool, error) {
	var exists bool
	err := t.pg.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM records WHERE kind = $1 AND parent = $2 AND "user" = $3)`,
		int16(key.Kind), key.Parent[:], key.User[:],
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return exists, nil
}

func (t *tx) Put(ctx context.Context, rec state.Record) error {
	key := rec.Key()
	version, data, err := state.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = t.pg.Exec(ctx, `
		INSERT INTO records (kind, parent, "user", version, data, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		ON CONFLICT (kind, parent, "user")
		DO UPDATE SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		int16(key.Kind), key.Parent[:], key.User[:], int16(version), string(data), t.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, key state.Key) error {
	tag, err := t.pg.Exec(ctx, `
		DELETE FROM records WHERE kind = $1 AND parent = $2 AND "user" = $3`,
		int16(key.Kind), key.Parent[:], key.User[:],
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", key, errs.ErrNotFound)
	}
	return nil
}

func (t *tx) ReserveBalance(ctx context.Context, reserve solana.PublicKey) (uint64, error) {
	var balance string
	err := t.pg.QueryRow(ctx, `SELECT balance::text FROM reserves WHERE address = $1`, reserve[:]).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load reserve %s: %w", reserve, err)
	}
	return parseAmount(balance)
}

func (t *tx) Deposit(ctx context.Context, reserve, from solana.PublicKey, amount uint64, memo string) error {
	current, err := t.ReserveBalance(ctx, reserve)
	if err != nil {
		return err
	}
	if current+amount < current {
		return errs.Overflow("reserve balance")
	}
	_, err = t.pg.Exec(ctx, `
		INSERT INTO reserves (address, balance, updated_at) VALUES ($1, $2::numeric, $3)
		ON CONFLICT (address)
		DO UPDATE SET balance = reserves.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at`,
		reserve[:], formatAmount(amount), t.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to credit reserve %s: %w", reserve, err)
	}
	return t.journal(ctx, reserve, from, state.TransferDeposit, amount, memo)
}

func (t *tx) MoveValue(ctx context.Context, reserve, to solana.PublicKey, amount uint64, memo string) error {
	tag, err := t.pg.Exec(ctx, `
		UPDATE reserves SET balance = balance - $2::numeric, updated_at = $3
		WHERE address = $1 AND balance >= $2::numeric`,
		reserve[:], formatAmount(amount), t.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to debit reserve %s: %w", reserve, err)
	}
	if tag.RowsAffected() == 0 {
		balance, err := t.ReserveBalance(ctx, reserve)
		if err != nil {
			return err
		}
		return fmt.Errorf("reserve %s holds %d, need %d: %w", reserve, balance, amount, errs.ErrInsufficientFunds)
	}
	return t.journal(ctx, reserve, to, state.TransferPayout, amount, memo)
}

func (t *tx) journal(ctx context.Context, reserve, counterparty solana.PublicKey, kind state.TransferKind, amount uint64, memo string) error {
	_, err := t.pg.Exec(ctx, `
		INSERT INTO transfers (id, reserve, counterparty, kind, amount, memo, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
		uuid.New(), reserve[:], counterparty[:], string(kind), formatAmount(amount), memo, t.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to journal %s for reserve %s: %w", kind, reserve, err)
	}
	return nil
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %v: %w", s, err, errs.ErrInvalidAccountData)
	}
	return v, nil
}
