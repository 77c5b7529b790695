package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisBalancePrefix = "ledger/"
var redisIndexPrefix = "ledger-index/"

// Every mutation runs as a single script so the read-modify-write on the
// balance hash and the community index update are atomic on the server.
var (
	scriptAdd = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], 'points', ARGV[1])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return n
`)

	scriptRemove = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'points') or '0')
local n = cur - tonumber(ARGV[1])
if n < 0 then n = 0 end
redis.call('HSET', KEYS[1], 'points', n, 'updated_at', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return n
`)

	scriptReset = redis.NewScript(`
redis.call('HSET', KEYS[1], 'points', 0, 'updated_at', ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
return 0
`)

	scriptBulkReset = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
for _, m in ipairs(members) do
	redis.call('HSET', ARGV[1] .. m, 'points', 0, 'updated_at', ARGV[2])
end
return #members
`)

	// moves every balance indexed under KEYS[1] onto the same member in the
	// target community, summing points, then drops the source index
	scriptMerge = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
for _, m in ipairs(members) do
	local src = ARGV[1] .. ARGV[2] .. '/' .. m
	local dst = ARGV[1] .. ARGV[3] .. '/' .. m
	local pts = tonumber(redis.call('HGET', src, 'points') or '0')
	redis.call('HINCRBY', dst, 'points', pts)
	redis.call('HSET', dst, 'updated_at', ARGV[4])
	redis.call('SADD', KEYS[2], m)
	redis.call('DEL', src)
end
redis.call('DEL', KEYS[1])
return #members
`)
)

// RedisLedger keeps each balance in a hash at "ledger/{community}/{member}",
// plus a per-community set of member ids used by BulkReset.
type RedisLedger struct {
	Client *redis.Client
	Logger *slog.Logger
}

var _ Ledger = (*RedisLedger)(nil)

func NewRedisLedger(redisURL string) (*RedisLedger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, unavailable("connect", err)
	}
	return &RedisLedger{Client: rdb, Logger: slog.Default()}, nil
}

func redisBalanceKey(key Key) string {
	return redisBalancePrefix + key.Community + "/" + key.Member
}

func redisIndexKey(community string) string {
	return redisIndexPrefix + community
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (l *RedisLedger) Get(ctx context.Context, key Key) (int64, error) {
	v, err := l.Client.HGet(ctx, redisBalanceKey(key), "points").Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, unavailable("get", err)
	}
	return v, nil
}

func (l *RedisLedger) Add(ctx context.Context, key Key, amount int64) (int64, error) {
	if err := checkMutation(key, amount); err != nil {
		return 0, err
	}
	keys := []string{redisBalanceKey(key), redisIndexKey(key.Community)}
	n, err := scriptAdd.Run(ctx, l.Client, keys, amount, nowString(), key.Member).Int64()
	if err != nil {
		return 0, unavailable("add", err)
	}
	return n, nil
}

func (l *RedisLedger) Remove(ctx context.Context, key Key, amount int64) (int64, error) {
	if err := checkMutation(key, amount); err != nil {
		return 0, err
	}
	keys := []string{redisBalanceKey(key), redisIndexKey(key.Community)}
	n, err := scriptRemove.Run(ctx, l.Client, keys, amount, nowString(), key.Member).Int64()
	if err != nil {
		return 0, unavailable("remove", err)
	}
	return n, nil
}

func (l *RedisLedger) Reset(ctx context.Context, key Key) error {
	if err := checkMutation(key, 0); err != nil {
		return err
	}
	keys := []string{redisBalanceKey(key), redisIndexKey(key.Community)}
	if err := scriptReset.Run(ctx, l.Client, keys, nowString(), key.Member).Err(); err != nil {
		return unavailable("reset", err)
	}
	return nil
}

func (l *RedisLedger) BulkReset(ctx context.Context, community string) error {
	keys := []string{redisIndexKey(community)}
	prefix := redisBalancePrefix + community + "/"
	if err := scriptBulkReset.Run(ctx, l.Client, keys, prefix, nowString()).Err(); err != nil {
		return unavailable("bulk reset", err)
	}
	return nil
}

func (l *RedisLedger) Close() error {
	return l.Client.Close()
}

// Migrate reconciles stored balances with scope, like the SQL ledger does:
// per community, global balances are merged into defaultCommunity; globally,
// every community's balances are collapsed into the global ones. Points are
// summed per member. Runs on every startup; once reconciled it is a no-op.
func (l *RedisLedger) Migrate(ctx context.Context, defaultCommunity string, scope Scope) error {
	communities, err := l.communities(ctx)
	if err != nil {
		return unavailable("migrate", err)
	}
	if scope.PerCommunity {
		if _, ok := communities[""]; !ok {
			return nil
		}
		if defaultCommunity == "" {
			l.Logger.Warn("per-community ledger without a default community; leaving global balances in place")
			return nil
		}
		return l.merge(ctx, "", defaultCommunity)
	}
	for c := range communities {
		if c == "" {
			continue
		}
		if err := l.merge(ctx, c, ""); err != nil {
			return err
		}
	}
	return nil
}

// communities lists every community with an index set
func (l *RedisLedger) communities(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	iter := l.Client.Scan(ctx, 0, redisIndexPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		out[strings.TrimPrefix(iter.Val(), redisIndexPrefix)] = struct{}{}
	}
	return out, iter.Err()
}

func (l *RedisLedger) merge(ctx context.Context, from, to string) error {
	keys := []string{redisIndexKey(from), redisIndexKey(to)}
	n, err := scriptMerge.Run(ctx, l.Client, keys, redisBalancePrefix, from, to, nowString()).Int64()
	if err != nil {
		return unavailable("migrate", fmt.Errorf("merging %q into %q: %w", from, to, err))
	}
	if n > 0 {
		l.Logger.Info("merged ledger balances", "members", n, "source_community", from, "target_community", to)
	}
	return nil
}
