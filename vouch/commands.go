package vouch

import (
	"context"

	"github.com/fuelcart/vouch/ledger"
)

// Commands are the administrative ledger operations. Callers perform any
// authorization before invoking them.
type Commands struct {
	Ledger ledger.Ledger
	Scope  ledger.Scope
}

type RedeemResult struct {
	// false when there was nothing to redeem
	Redeemed bool
	// balance before redemption
	Previous int64
}

func (c *Commands) Grant(ctx context.Context, community, member string, amount int64) (int64, error) {
	return c.Ledger.Add(ctx, c.Scope.Key(community, member), amount)
}

func (c *Commands) Revoke(ctx context.Context, community, member string, amount int64) (int64, error) {
	return c.Ledger.Remove(ctx, c.Scope.Key(community, member), amount)
}

func (c *Commands) Query(ctx context.Context, community, member string) (int64, error) {
	return c.Ledger.Get(ctx, c.Scope.Key(community, member))
}

func (c *Commands) Reset(ctx context.Context, community, member string) error {
	return c.Ledger.Reset(ctx, c.Scope.Key(community, member))
}

// ResetAll zeroes every balance of the community; every balance at all when
// the ledger is not scoped per community.
func (c *Commands) ResetAll(ctx context.Context, community string) error {
	return c.Ledger.BulkReset(ctx, c.Scope.Community(community))
}

// Redeem zeroes a positive balance. It reads then resets, so a grant racing
// with it may be lost; redemption is a rare, staff-driven operation.
func (c *Commands) Redeem(ctx context.Context, community, member string) (RedeemResult, error) {
	key := c.Scope.Key(community, member)
	total, err := c.Ledger.Get(ctx, key)
	if err != nil {
		return RedeemResult{}, err
	}
	if total <= 0 {
		return RedeemResult{}, nil
	}
	if err := c.Ledger.Reset(ctx, key); err != nil {
		return RedeemResult{}, err
	}
	return RedeemResult{Redeemed: true, Previous: total}, nil
}
