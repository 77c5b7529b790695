// Package ledger is the durable points store: one non-negative balance per
// (community, member), mutated only through atomic operations.
//
// Several storage adapters implement the same [Ledger] contract: an
// in-process map (tests, single-shot tooling), SQL through gorm (sqlite file
// or postgres) and redis. Any adapter may be shared by several processes
// except [MemLedger], so increments are serialized by the store itself and
// never by an in-process lock held by callers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// Returned when a caller tries to pass a negative amount. Decrements go through Remove.
	ErrNegativeAmount = errors.New("ledger amount must not be negative")
	// Returned for keys without a member id.
	ErrInvalidKey = errors.New("ledger key requires a member id")
	// Wraps any failure of the backing store (connection refused, timeout, driver error).
	ErrUnavailable = errors.New("ledger unavailable")
)

// Key identifies a single balance. Community is empty when the deployment
// does not scope balances per community.
type Key struct {
	Community string
	Member    string
}

func (k Key) String() string {
	if k.Community == "" {
		return k.Member
	}
	return k.Community + "/" + k.Member
}

// Balance is a snapshot of one ledger row.
type Balance struct {
	Key       Key
	Points    int64
	UpdatedAt time.Time
}

type Ledger interface {
	// Returns the current points for key, or 0 if the key has never been written.
	Get(ctx context.Context, key Key) (int64, error)
	// Atomically adds amount, creating the record if needed. Returns the new total.
	Add(ctx context.Context, key Key, amount int64) (int64, error)
	// Atomically subtracts amount, clamping at zero. Returns the new total.
	Remove(ctx context.Context, key Key, amount int64) (int64, error)
	// Sets the balance to zero, creating the record if needed.
	Reset(ctx context.Context, key Key) error
	// Sets every balance of the community to zero.
	BulkReset(ctx context.Context, community string) error
	Close() error
}

// Scope turns platform identifiers into ledger keys. When PerCommunity is
// false every balance is global and the community id is dropped.
type Scope struct {
	PerCommunity bool
}

func (s Scope) Key(community, member string) Key {
	return Key{Community: s.Community(community), Member: member}
}

func (s Scope) Community(community string) string {
	if !s.PerCommunity {
		return ""
	}
	return community
}

func checkMutation(key Key, amount int64) error {
	if key.Member == "" {
		return ErrInvalidKey
	}
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAmount, amount)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("ledger %s: %w: %w", op, ErrUnavailable, err)
}
