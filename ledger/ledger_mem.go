package ledger

import (
	"context"
	"sync"
	"time"
)

// MemLedger keeps balances in process memory. Safe for concurrent use, but
// not durable and not shared across processes.
type MemLedger struct {
	mu       sync.Mutex
	balances map[Key]Balance
}

var _ Ledger = (*MemLedger)(nil)

func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances: make(map[Key]Balance),
	}
}

func (l *MemLedger) Get(ctx context.Context, key Key) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[key].Points, nil
}

func (l *MemLedger) Add(ctx context.Context, key Key, amount int64) (int64, error) {
	if err := checkMutation(key, amount); err != nil {
		return 0, err
	}
	return l.update(key, func(cur int64) int64 { return cur + amount }), nil
}

func (l *MemLedger) Remove(ctx context.Context, key Key, amount int64) (int64, error) {
	if err := checkMutation(key, amount); err != nil {
		return 0, err
	}
	return l.update(key, func(cur int64) int64 { return max(0, cur-amount) }), nil
}

func (l *MemLedger) Reset(ctx context.Context, key Key) error {
	if err := checkMutation(key, 0); err != nil {
		return err
	}
	l.update(key, func(int64) int64 { return 0 })
	return nil
}

func (l *MemLedger) BulkReset(ctx context.Context, community string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	for k, b := range l.balances {
		if k.Community != community {
			continue
		}
		b.Points = 0
		b.UpdatedAt = now
		l.balances[k] = b
	}
	return nil
}

// Snapshot returns a copy of every balance. Intended for tests and tooling.
func (l *MemLedger) Snapshot() []Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Balance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, b)
	}
	return out
}

func (l *MemLedger) Close() error {
	return nil
}

func (l *MemLedger) update(key Key, fn func(int64) int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[key]
	if !ok {
		b = Balance{Key: key}
	}
	b.Points = fn(b.Points)
	b.UpdatedAt = time.Now().UTC()
	l.balances[key] = b
	return b.Points
}
