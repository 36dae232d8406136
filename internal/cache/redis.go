// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/olegiv/reviewlens/internal/model"
)

// Key layout under the prefix:
//
//	rec:<key>               hash holding one record
//	idx:<type>:<identifier> set of record keys sharing a stat type and identifier
//	exp                     zset of record keys scored by expires_at (ms)
//	hot                     zset of record keys scored by access_count
//	age                     zset of record keys scored by computed_at (ms)
//
// The prefix is wrapped in a hash tag so every key maps to one cluster slot.
// The invalidate and sweep scripts derive record keys from index members,
// which Redis Cluster only serves when they share the slot of KEYS.

// putScript performs the conditional write and keeps the secondary indexes in step.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'computed_at')
if cur and tonumber(cur) > tonumber(ARGV[7]) then
  return 0
end
local access = tonumber(redis.call('HGET', KEYS[1], 'access_count') or '0')
if tonumber(ARGV[9]) > access then
  access = tonumber(ARGV[9])
end
redis.call('HSET', KEYS[1],
  'stat_type', ARGV[2], 'identifier', ARGV[3], 'params_hash', ARGV[4],
  'params', ARGV[5], 'payload', ARGV[6], 'computed_at', ARGV[7],
  'expires_at', ARGV[8], 'access_count', access, 'watermark', ARGV[10])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[4], access, ARGV[1])
redis.call('ZADD', KEYS[5], ARGV[7], ARGV[1])
if ARGV[8] == '' then
  redis.call('ZREM', KEYS[3], ARGV[1])
  redis.call('PERSIST', KEYS[1])
else
  redis.call('ZADD', KEYS[3], ARGV[8], ARGV[1])
  redis.call('PEXPIREAT', KEYS[1], ARGV[8])
end
return 1
`)

var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local n = redis.call('HINCRBY', KEYS[1], 'access_count', 1)
redis.call('ZADD', KEYS[2], n, ARGV[1])
return n
`)

var invalidateScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, m in ipairs(members) do
  n = n + redis.call('DEL', ARGV[1] .. 'rec:' .. m)
  redis.call('ZREM', KEYS[2], m)
  redis.call('ZREM', KEYS[3], m)
  redis.call('ZREM', KEYS[4], m)
end
redis.call('DEL', KEYS[1])
return n
`)

var sweepScript = redis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
for _, m in ipairs(members) do
  redis.call('DEL', ARGV[1] .. 'rec:' .. m)
  redis.call('ZREM', KEYS[1], m)
  redis.call('ZREM', KEYS[2], m)
  redis.call('ZREM', KEYS[3], m)
  local idx = string.match(m, '^(.*):[^:]*$')
  if idx then
    redis.call('SREM', ARGV[1] .. 'idx:' .. idx, m)
  end
end
return #members
`)

// RedisStore is a Redis-backed Backend shared by every replica.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  clockwork.Clock
	closed atomic.Bool

	// Statistics
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	rejects atomic.Int64
}

// RedisStoreOptions configures the Redis store.
type RedisStoreOptions struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string

	// Prefix is prepended to all keys (e.g., "reviewlens:")
	Prefix string

	// PoolSize is the maximum number of connections (0 = use default)
	PoolSize int

	// ConnectTimeout is the timeout for establishing a connection
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for write operations
	WriteTimeout time.Duration

	Clock clockwork.Clock
}

// DefaultRedisStoreOptions returns sensible defaults.
func DefaultRedisStoreOptions() RedisStoreOptions {
	return RedisStoreOptions{
		Prefix:         "reviewlens:",
		PoolSize:       10,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
	}
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}

	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
	}
	if opts.ConnectTimeout > 0 {
		redisOpts.DialTimeout = opts.ConnectTimeout
	}
	if opts.ReadTimeout > 0 {
		redisOpts.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		redisOpts.WriteTimeout = opts.WriteTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{
		client: client,
		prefix: hashTagPrefix(opts.Prefix),
		clock:  opts.Clock,
	}, nil
}

// hashTagPrefix wraps prefix in {} unless it already carries a hash tag.
func hashTagPrefix(prefix string) string {
	if strings.Contains(prefix, "{") {
		return prefix
	}
	return "{" + prefix + "}"
}

func (s *RedisStore) recKey(member string) string { return s.prefix + "rec:" + member }

func (s *RedisStore) idxKey(statType model.StatType, identifier string) string {
	return s.prefix + "idx:" + string(statType) + ":" + identifier
}

func (s *RedisStore) zsetKey(name string) string { return s.prefix + name }

// Get retrieves a record.
func (s *RedisStore) Get(ctx context.Context, key model.Key, maxAge time.Duration) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrCacheClosed
	}

	fields, err := s.client.HGetAll(ctx, s.recKey(key.String())).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		s.misses.Add(1)
		return nil, ErrCacheMiss
	}

	rec, err := recordFromHash(fields)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if rec.Expired(now) || (maxAge > 0 && rec.Age(now) > maxAge) {
		s.misses.Add(1)
		return nil, ErrCacheMiss
	}

	s.hits.Add(1)
	return rec, nil
}

// Put stores rec unless a record computed later already exists.
func (s *RedisStore) Put(ctx context.Context, rec *Record) (bool, error) {
	if s.closed.Load() {
		return false, ErrCacheClosed
	}

	member := rec.Key.String()
	expiresAt := ""
	if rec.ExpiresAt != nil {
		expiresAt = strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10)
	}

	res, err := putScript.Run(ctx, s.client,
		[]string{
			s.recKey(member),
			s.idxKey(rec.Key.Type, rec.Key.Identifier),
			s.zsetKey("exp"),
			s.zsetKey("hot"),
			s.zsetKey("age"),
		},
		member,
		string(rec.Key.Type), rec.Key.Identifier, rec.Key.ParamsHash,
		string(rec.Params), string(rec.Payload),
		rec.ComputedAt.UnixMilli(), expiresAt, rec.AccessCount, rec.Watermark,
	).Int()
	if err != nil {
		return false, err
	}

	if res == 1 {
		s.sets.Add(1)
		return true, nil
	}
	s.rejects.Add(1)
	return false, nil
}

// Invalidate removes every params variant of (statType, identifier).
func (s *RedisStore) Invalidate(ctx context.Context, statType model.StatType, identifier string) (int, error) {
	if s.closed.Load() {
		return 0, ErrCacheClosed
	}

	return invalidateScript.Run(ctx, s.client,
		[]string{
			s.idxKey(statType, identifier),
			s.zsetKey("exp"),
			s.zsetKey("hot"),
			s.zsetKey("age"),
		},
		s.prefix,
	).Int()
}

// SweepExpired removes records whose expires_at has passed.
func (s *RedisStore) SweepExpired(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrCacheClosed
	}

	return sweepScript.Run(ctx, s.client,
		[]string{s.zsetKey("exp"), s.zsetKey("hot"), s.zsetKey("age")},
		s.prefix, s.clock.Now().UnixMilli(),
	).Int()
}

// Touch increments the access counter of key.
func (s *RedisStore) Touch(ctx context.Context, key model.Key) error {
	if s.closed.Load() {
		return ErrCacheClosed
	}

	member := key.String()
	return touchScript.Run(ctx, s.client, []string{s.recKey(member), s.zsetKey("hot")}, member).Err()
}

// List returns unexpired records.
func (s *RedisStore) List(ctx context.Context, f ListFilter) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrCacheClosed
	}

	var (
		members []string
		err     error
	)
	if f.OrderBy == ByComputedAt {
		members, err = s.client.ZRange(ctx, s.zsetKey("age"), 0, -1).Result()
	} else {
		members, err = s.client.ZRevRange(ctx, s.zsetKey("hot"), 0, -1).Result()
	}
	if err != nil {
		return nil, err
	}

	prefix := ""
	if f.StatType != "" {
		prefix = string(f.StatType) + ":"
		if f.Identifier != "" {
			prefix += f.Identifier + ":"
		}
	}

	var candidates []string
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(candidates))
	for i, m := range candidates {
		cmds[i] = pipe.HGetAll(ctx, s.recKey(m))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make([]*Record, 0, len(candidates))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(fields)
		if err != nil {
			return nil, err
		}
		if rec.Expired(now) {
			continue
		}
		if f.Identifier != "" && rec.Key.Identifier != f.Identifier {
			continue
		}
		out = append(out, rec)
	}

	sortRecords(out, f.OrderBy)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		return s.client.Close()
	}
	return nil
}

// Ping checks the connection to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Stats returns store statistics. Items is not tracked.
func (s *RedisStore) Stats() Stats {
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Rejects: s.rejects.Load(),
	}
}

// ResetStats resets the statistics counters.
func (s *RedisStore) ResetStats() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.rejects.Store(0)
}

func recordFromHash(fields map[string]string) (*Record, error) {
	computedAt, err := strconv.ParseInt(fields["computed_at"], 10, 64)
	if err != nil {
		return nil, errors.New("redis record has invalid computed_at")
	}
	access, _ := strconv.ParseInt(fields["access_count"], 10, 64)
	watermark, _ := strconv.ParseInt(fields["watermark"], 10, 64)

	rec := &Record{
		Key: model.Key{
			Type:       model.StatType(fields["stat_type"]),
			Identifier: fields["identifier"],
			ParamsHash: fields["params_hash"],
		},
		Params:      []byte(fields["params"]),
		Payload:     []byte(fields["payload"]),
		ComputedAt:  time.UnixMilli(computedAt).UTC(),
		AccessCount: access,
		Watermark:   watermark,
	}
	if v := fields["expires_at"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.New("redis record has invalid expires_at")
		}
		exp := time.UnixMilli(ms).UTC()
		rec.ExpiresAt = &exp
	}
	return rec, nil
}

var _ Backend = (*RedisStore)(nil)
var _ StatsProvider = (*RedisStore)(nil)
