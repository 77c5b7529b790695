package ledger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testGormDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.db")), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqldb.Close() })
	return db
}

func testGormLedger(t *testing.T, scope Scope) *GormLedger {
	l := NewGormLedger(testGormDB(t), scope)
	require.NoError(t, l.Migrate(context.Background(), "guild1"))
	return l
}

// runs the shared contract against every adapter available in this environment
func forEachLedger(t *testing.T, fn func(t *testing.T, l Ledger, community string)) {
	t.Run("mem", func(t *testing.T) {
		fn(t, NewMemLedger(), "guild1")
	})
	t.Run("gorm-sqlite", func(t *testing.T) {
		fn(t, testGormLedger(t, Scope{PerCommunity: true}), "guild1")
	})
	t.Run("redis", func(t *testing.T) {
		redisURL := os.Getenv("VOUCH_TEST_REDIS_URL")
		if redisURL == "" {
			t.Skip("VOUCH_TEST_REDIS_URL not set")
		}
		l, err := NewRedisLedger(redisURL)
		require.NoError(t, err)
		defer l.Close()
		// unique community per run, so leftover keys from earlier runs don't interfere
		fn(t, l, "test-"+uuid.NewString())
	})
}

func TestLedgerBasics(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger, community string) {
		assert := assert.New(t)
		ctx := context.Background()
		k := Key{Community: community, Member: "m1"}

		v, err := l.Get(ctx, k)
		assert.NoError(err)
		assert.Equal(int64(0), v)

		v, err = l.Add(ctx, k, 3)
		assert.NoError(err)
		assert.Equal(int64(3), v)

		v, err = l.Add(ctx, k, 2)
		assert.NoError(err)
		assert.Equal(int64(5), v)

		v, err = l.Remove(ctx, k, 4)
		assert.NoError(err)
		assert.Equal(int64(1), v)

		// clamps at zero
		v, err = l.Remove(ctx, k, 10)
		assert.NoError(err)
		assert.Equal(int64(0), v)

		v, err = l.Get(ctx, k)
		assert.NoError(err)
		assert.Equal(int64(0), v)

		// removing from a balance that was never written creates it at zero
		v, err = l.Remove(ctx, Key{Community: community, Member: "fresh"}, 2)
		assert.NoError(err)
		assert.Equal(int64(0), v)

		_, err = l.Add(ctx, k, -1)
		assert.ErrorIs(err, ErrNegativeAmount)
		_, err = l.Remove(ctx, k, -1)
		assert.ErrorIs(err, ErrNegativeAmount)
		_, err = l.Add(ctx, Key{Community: community}, 1)
		assert.ErrorIs(err, ErrInvalidKey)
	})
}

func TestLedgerSequenceNeverNegative(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger, community string) {
		assert := assert.New(t)
		ctx := context.Background()
		k := Key{Community: community, Member: "seq"}

		// positive values are adds, negative values are removes
		ops := []int64{2, -5, 3, 1, -2, -2, 7, -1, -10, 4}
		var want int64
		for _, op := range ops {
			var got int64
			var err error
			if op >= 0 {
				got, err = l.Add(ctx, k, op)
				want += op
			} else {
				got, err = l.Remove(ctx, k, -op)
				want = max(0, want+op)
			}
			assert.NoError(err)
			assert.Equal(want, got)
			assert.GreaterOrEqual(got, int64(0))
		}
		v, err := l.Get(ctx, k)
		assert.NoError(err)
		assert.Equal(int64(4), v)
	})
}

func TestLedgerReset(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger, community string) {
		assert := assert.New(t)
		ctx := context.Background()
		k := Key{Community: community, Member: "r1"}

		// reset of a key with no history
		assert.NoError(l.Reset(ctx, k))
		v, err := l.Get(ctx, k)
		assert.NoError(err)
		assert.Equal(int64(0), v)

		_, err = l.Add(ctx, k, 12)
		assert.NoError(err)
		assert.NoError(l.Reset(ctx, k))
		v, err = l.Get(ctx, k)
		assert.NoError(err)
		assert.Equal(int64(0), v)
	})
}

func TestLedgerBulkReset(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger, community string) {
		assert := assert.New(t)
		ctx := context.Background()
		other := community + "-other"

		for _, m := range []string{"a", "b", "c"} {
			_, err := l.Add(ctx, Key{Community: community, Member: m}, 5)
			assert.NoError(err)
		}
		_, err := l.Add(ctx, Key{Community: other, Member: "a"}, 9)
		assert.NoError(err)

		assert.NoError(l.BulkReset(ctx, community))
		for _, m := range []string{"a", "b", "c"} {
			v, err := l.Get(ctx, Key{Community: community, Member: m})
			assert.NoError(err)
			assert.Equal(int64(0), v)
		}
		v, err := l.Get(ctx, Key{Community: other, Member: "a"})
		assert.NoError(err)
		assert.Equal(int64(9), v)
	})
}

func TestLedgerConcurrentAdd(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger, community string) {
		assert := assert.New(t)
		ctx := context.Background()
		k := Key{Community: community, Member: "busy"}

		_, err := l.Add(ctx, k, 10)
		assert.NoError(err)

		const n = 50
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				_, err := l.Add(ctx, k, 1)
				assert.NoError(err)
			}()
		}
		wg.Wait()

		v, err := l.Get(ctx, k)
		assert.NoError(err)
		assert.Equal(int64(10+n), v)
	})
}

func TestLedgerConcurrentRemove(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger, community string) {
		assert := assert.New(t)
		ctx := context.Background()
		k := Key{Community: community, Member: "drain"}

		_, err := l.Add(ctx, k, 30)
		assert.NoError(err)

		var wg sync.WaitGroup
		wg.Add(20)
		for i := 0; i < 20; i++ {
			go func() {
				defer wg.Done()
				v, err := l.Remove(ctx, k, 2)
				assert.NoError(err)
				assert.GreaterOrEqual(v, int64(0))
			}()
		}
		wg.Wait()

		// 40 requested from 30; fully serialized clamping ends at zero
		v, err := l.Get(ctx, k)
		assert.NoError(err)
		assert.Equal(int64(0), v)
	})
}

func TestScopeKey(t *testing.T) {
	assert := assert.New(t)

	scoped := Scope{PerCommunity: true}
	assert.Equal(Key{Community: "g1", Member: "u1"}, scoped.Key("g1", "u1"))
	assert.Equal("g1/u1", scoped.Key("g1", "u1").String())

	global := Scope{PerCommunity: false}
	assert.Equal(Key{Member: "u1"}, global.Key("g1", "u1"))
	assert.Equal("u1", global.Key("g1", "u1").String())
	assert.Equal("", global.Community("g1"))
}
