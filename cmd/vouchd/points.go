package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fuelcart/vouch/ledger"

	cli "github.com/urfave/cli/v2"
)

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or upgrade the ledger schema, importing legacy balances",
	Action: func(cctx *cli.Context) error {
		scope := ledger.Scope{PerCommunity: cctx.Bool("per-community")}
		l, err := ledgerFromFlags(cctx, scope)
		if err != nil {
			return err
		}
		defer l.Close()
		fmt.Println("ledger is up to date")
		return nil
	},
}

var memberFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "member",
		Usage:    "member id",
		Required: true,
	},
}

var amountFlag = &cli.Int64Flag{
	Name:     "amount",
	Aliases:  []string{"n"},
	Required: true,
}

var pointsCmd = &cli.Command{
	Name:  "points",
	Usage: "sub-commands to inspect and adjust balances directly",
	Subcommands: []*cli.Command{
		{
			Name:  "get",
			Usage: "print a member's balance",
			Flags: memberFlags,
			Action: func(cctx *cli.Context) error {
				return withLedger(cctx, func(ctx context.Context, l ledger.Ledger, key ledger.Key) error {
					n, err := l.Get(ctx, key)
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%d\n", key, n)
					return nil
				})
			},
		},
		{
			Name:  "add",
			Usage: "credit points to a member",
			Flags: append([]cli.Flag{amountFlag}, memberFlags...),
			Action: func(cctx *cli.Context) error {
				return withLedger(cctx, func(ctx context.Context, l ledger.Ledger, key ledger.Key) error {
					n, err := l.Add(ctx, key, cctx.Int64("amount"))
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%d\n", key, n)
					return nil
				})
			},
		},
		{
			Name:  "remove",
			Usage: "debit points from a member, stopping at zero",
			Flags: append([]cli.Flag{amountFlag}, memberFlags...),
			Action: func(cctx *cli.Context) error {
				return withLedger(cctx, func(ctx context.Context, l ledger.Ledger, key ledger.Key) error {
					n, err := l.Remove(ctx, key, cctx.Int64("amount"))
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%d\n", key, n)
					return nil
				})
			},
		},
		{
			Name:  "reset",
			Usage: "set a member's balance to zero",
			Flags: memberFlags,
			Action: func(cctx *cli.Context) error {
				return withLedger(cctx, func(ctx context.Context, l ledger.Ledger, key ledger.Key) error {
					return l.Reset(ctx, key)
				})
			},
		},
		{
			Name:  "reset-all",
			Usage: "set every balance of the community to zero",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "yes",
					Usage: "confirm the reset",
				},
			},
			Action: func(cctx *cli.Context) error {
				if !cctx.Bool("yes") {
					return fmt.Errorf("refusing to reset every balance without --yes")
				}
				scope, err := scopeFromFlags(cctx)
				if err != nil {
					return err
				}
				l, err := ledgerFromFlags(cctx, scope)
				if err != nil {
					return err
				}
				defer l.Close()
				return l.BulkReset(cctx.Context, scope.Community(cctx.String("community")))
			},
		},
	},
}

// scopeFromFlags validates the scope flags before any store is touched.
func scopeFromFlags(cctx *cli.Context) (ledger.Scope, error) {
	scope := ledger.Scope{PerCommunity: cctx.Bool("per-community")}
	if scope.PerCommunity && cctx.String("community") == "" {
		return scope, fmt.Errorf("--community is required for per-community balances")
	}
	return scope, nil
}

func ledgerFromFlags(cctx *cli.Context, scope ledger.Scope) (ledger.Ledger, error) {
	return openLedger(cctx.Context, cctx.String("ledger-url"), cctx.Int("max-db-connections"), scope, cctx.String("community"), slog.Default())
}

func withLedger(cctx *cli.Context, fn func(context.Context, ledger.Ledger, ledger.Key) error) error {
	scope, err := scopeFromFlags(cctx)
	if err != nil {
		return err
	}
	l, err := ledgerFromFlags(cctx, scope)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(cctx.Context, l, scope.Key(cctx.String("community"), cctx.String("member")))
}
