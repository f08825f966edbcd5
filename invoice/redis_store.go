package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finagent/stablepay"
)

const redisKeyPrefix = "stablepay:invoice:"

// RedisStore persists invoices in Redis as JSON values. Keys expire a
// retention period after the invoice itself would have expired, so stale
// terminal invoices age out without a separate GC pass.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

var _ stablepay.Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing Redis client. retention <= 0 keeps
// invoices for 30 days past expiry.
func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, retention: retention}
}

// Put upserts the invoice under its ID.
func (s *RedisStore) Put(ctx context.Context, inv *stablepay.Invoice) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	ttl := time.Until(inv.ExpiresAt) + s.retention
	if ttl < s.retention {
		ttl = s.retention
	}
	return s.rdb.Set(ctx, redisKeyPrefix+inv.ID, data, ttl).Err()
}

// Get returns the invoice, or nil if absent.
func (s *RedisStore) Get(ctx context.Context, id string) (*stablepay.Invoice, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, stablepay.WrapError(stablepay.KindTransient, "invoice store read failed", err)
	}
	var inv stablepay.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// List scans every stored invoice.
func (s *RedisStore) List(ctx context.Context) ([]*stablepay.Invoice, error) {
	var out []*stablepay.Invoice
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, stablepay.WrapError(stablepay.KindTransient, "invoice store read failed", err)
		}
		var inv stablepay.Invoice
		if err := json.Unmarshal(data, &inv); err != nil {
			return nil, err
		}
		out = append(out, &inv)
	}
	if err := iter.Err(); err != nil {
		return nil, stablepay.WrapError(stablepay.KindTransient, "invoice store scan failed", err)
	}
	return out, nil
}

// Delete removes the invoice if present.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, redisKeyPrefix+id).Err()
}
