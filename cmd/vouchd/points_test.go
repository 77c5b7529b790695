package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fuelcart/vouch/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointsRequiresCommunity(t *testing.T) {
	assert := assert.New(t)
	t.Setenv("VOUCH_COMMUNITY", "")
	t.Setenv("GUILD_ID", "")

	path := filepath.Join(t.TempDir(), "data", "ledger.db")
	for _, sub := range [][]string{
		{"points", "get", "--member", "1"},
		{"points", "add", "--member", "1", "--amount", "2"},
		{"points", "reset-all", "--yes"},
	} {
		args := append([]string{"vouchd", "--ledger-url", "sqlite://" + path}, sub...)
		err := run(args)
		assert.ErrorContains(err, "--community is required", sub)
	}
	// rejected before the database was opened or migrated
	_, err := os.Stat(filepath.Dir(path))
	assert.True(os.IsNotExist(err))
}

func TestPointsCommands(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "ledger.db")
	base := []string{"vouchd", "--ledger-url", "sqlite://" + path, "--community", "100"}

	require.NoError(t, run(append(base, "points", "add", "--member", "1", "--amount", "5")))
	require.NoError(t, run(append(base, "points", "remove", "--member", "1", "--amount", "2")))
	require.NoError(t, run(append(base, "points", "add", "--member", "2", "--amount", "1")))

	scope := ledger.Scope{PerCommunity: true}
	l, err := openLedger(context.Background(), "sqlite://"+path, 1, scope, "100", slog.Default())
	require.NoError(t, err)
	n, err := l.Get(context.Background(), scope.Key("100", "1"))
	assert.NoError(err)
	assert.Equal(int64(3), n)
	assert.NoError(l.Close())

	assert.Error(run(append(base, "points", "reset-all")))
	require.NoError(t, run(append(base, "points", "reset-all", "--yes")))

	l, err = openLedger(context.Background(), "sqlite://"+path, 1, scope, "100", slog.Default())
	require.NoError(t, err)
	defer l.Close()
	n, err = l.Get(context.Background(), scope.Key("100", "2"))
	assert.NoError(err)
	assert.Equal(int64(0), n)
}
