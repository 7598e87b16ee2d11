// Package memory is an in-process state.Store used by tests and single-node deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/state"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

type Config struct {
	Clock clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type entry struct {
	version uint16
	data    []byte
}

// Store keeps encoded records in maps. Transactions are serialized by a single lock and
// staged in an overlay that is applied only when the callback succeeds.
type Store struct {
	cfg Config

	mu        sync.RWMutex
	records   map[state.Key]entry
	reserves  map[solana.PublicKey]uint64
	transfers []state.Transfer
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		cfg:      cfg,
		records:  make(map[state.Key]entry),
		reserves: make(map[solana.PublicKey]uint64),
	}, nil
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx state.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.newTx(true)
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for k, e := range t.records {
		if e == nil {
			delete(s.records, k)
			continue
		}
		s.records[k] = *e
	}
	for r, b := range t.reserves {
		s.reserves[r] = b
	}
	s.transfers = append(s.transfers, t.transfers...)
	return nil
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx state.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, s.newTx(false))
}

// ListTransfers returns the journal of reserve, oldest first.
func (s *Store) ListTransfers(_ context.Context, reserve solana.PublicKey) ([]state.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []state.Transfer
	for _, tr := range s.transfers {
		if tr.Reserve == reserve {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *Store) newTx(writable bool) *tx {
	return &tx{
		s:        s,
		writable: writable,
		records:  make(map[state.Key]*entry),
		reserves: make(map[solana.PublicKey]uint64),
	}
}

type tx struct {
	s         *Store
	writable  bool
	records   map[state.Key]*entry
	reserves  map[solana.PublicKey]uint64
	transfers []state.Transfer
}

func (t *tx) lookup(key state.Key) (entry, bool) {
	if e, staged := t.records[key]; staged {
		if e == nil {
			return entry{}, false
		}
		return *e, true
	}
	e, ok := t.s.records[key]
	return e, ok
}

func (t *tx) Get(_ context.Context, key state.Key) (state.Record, error) {
	e, ok := t.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, errs.ErrNotFound)
	}
	return state.Unmarshal(key.Kind, e.version, e.data)
}

func (t *tx) Exists(_ context.Context, key state.Key) (bool, error) {
	_, ok := t.lookup(key)
	return ok, nil
}

func (t *tx) Put(_ context.Context, rec state.Record) error {
	if !t.writable {
		return errReadOnly
	}
	version, data, err := state.Marshal(rec)
	if err != nil {
		return err
	}
	t.records[rec.Key()] = &entry{version: version, data: data}
	return nil
}

func (t *tx) Delete(_ context.Context, key state.Key) error {
	if !t.writable {
		return errReadOnly
	}
	if _, ok := t.lookup(key); !ok {
		return fmt.Errorf("%s: %w", key, errs.ErrNotFound)
	}
	t.records[key] = nil
	return nil
}

func (t *tx) ReserveBalance(ctx context.Context, reserve solana.PublicKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if b, ok := t.reserves[reserve]; ok {
		return b, nil
	}
	return t.s.reserves[reserve], nil
}

func (t *tx) Deposit(ctx context.Context, reserve, from solana.PublicKey, amount uint64, memo string) error {
	if !t.writable {
		return errReadOnly
	}
	balance, err := t.ReserveBalance(ctx, reserve)
	if err != nil {
		return err
	}
	if balance+amount < balance {
		return errs.Overflow("reserve balance")
	}
	t.reserves[reserve] = balance + amount
	t.journal(reserve, from, state.TransferDeposit, amount, memo)
	return nil
}

func (t *tx) MoveValue(ctx context.Context, reserve, to solana.PublicKey, amount uint64, memo string) error {
	if !t.writable {
		return errReadOnly
	}
	balance, err := t.ReserveBalance(ctx, reserve)
	if err != nil {
		return err
	}
	if amount > balance {
		return fmt.Errorf("reserve %s holds %d, need %d: %w", reserve, balance, amount, errs.ErrInsufficientFunds)
	}
	t.reserves[reserve] = balance - amount
	t.journal(reserve, to, state.TransferPayout, amount, memo)
	return nil
}

func (t *tx) journal(reserve, counterparty solana.PublicKey, kind state.TransferKind, amount uint64, memo string) {
	t.transfers = append(t.transfers, state.Transfer{
		ID:           uuid.New(),
		Reserve:      reserve,
		Counterparty: counterparty,
		Kind:         kind,
		Amount:       amount,
		Memo:         memo,
		CreatedAt:    t.s.cfg.Clock.Now().UTC(),
	})
}
