package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/japaniel/wordfamily/pkg/vocab"
)

// RedisSource is an optional shared page cache. Keys are scoped by prefix and
// user so learned flags of one user never leak to another session.
type RedisSource struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

type cachedPage struct {
	Words   []vocab.WordRecord `json:"words"`
	HasMore bool               `json:"hasMore"`
}

// DialRedis connects to addr and pings it. An empty addr yields a nil client.
// The caller owns the client and closes it.
func DialRedis(ctx context.Context, addr string) (goredis.UniversalClient, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisSourceWithClient scopes a shared client to one user.
func NewRedisSourceWithClient(rdb goredis.UniversalClient, prefix, userID string, ttl time.Duration) *RedisSource {
	if prefix == "" {
		prefix = "wordfamily"
	}
	if userID == "" {
		userID = "anonymous"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSource{rdb: rdb, prefix: prefix + ":" + userID, ttl: ttl}
}

func (s *RedisSource) Name() string { return SourceRedis }

func (s *RedisSource) key(r vocab.Range) string {
	level := r.Level
	if level.IsAll() {
		level = vocab.LevelAll
	}
	return fmt.Sprintf("%s:page:%s:%d:%d", s.prefix, level, r.StartFrom, r.Limit)
}

func (s *RedisSource) indexKey() string { return s.prefix + ":pages" }

func (s *RedisSource) FetchPage(ctx context.Context, r vocab.Range) (vocab.Page, error) {
	raw, err := s.rdb.Get(ctx, s.key(r)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return vocab.Page{}, ErrNoData
	}
	if err != nil {
		return vocab.Page{}, fmt.Errorf("redis get: %w", err)
	}
	var cp cachedPage
	if err := json.Unmarshal(raw, &cp); err != nil {
		return vocab.Page{}, fmt.Errorf("redis decode: %w", err)
	}
	return vocab.Page{Words: cp.Words, HasMore: cp.HasMore}, nil
}

func (s *RedisSource) Warm(ctx context.Context, r vocab.Range, page vocab.Page) error {
	raw, err := json.Marshal(cachedPage{Words: page.Words, HasMore: page.HasMore})
	if err != nil {
		return err
	}
	key := s.key(r)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, raw, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), key)
	pipe.Expire(ctx, s.indexKey(), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate deletes every page cached for this user.
func (s *RedisSource) Invalidate(ctx context.Context) error {
	keys, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return err
	}
	keys = append(keys, s.indexKey())
	return s.rdb.Del(ctx, keys...).Err()
}

