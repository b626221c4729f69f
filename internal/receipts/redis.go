package receipts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrBadRedisURL   = errors.New("failed to parse redis connection string")
	ErrRedisNotReady = errors.New("redis not ready")
)

const keyPrefix = "learnbyemail:receipt:"

// Connect parses url and pings the server once within timeout.
func Connect(ctx context.Context, url string, timeout time.Duration) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrBadRedisURL, err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, errors.Join(ErrRedisNotReady, err)
	}
	return c, nil
}

// RedisStore keeps one hash per subscription with a TTL.
type RedisStore struct {
	db  redis.UniversalClient
	ttl time.Duration
}

func NewRedisStore(db redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{db: db, ttl: ttl}
}

func key(id int64) string { return keyPrefix + strconv.FormatInt(id, 10) }

func (s *RedisStore) Put(ctx context.Context, r Receipt) error {
	k := key(r.SubscriptionID)
	_, err := s.db.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k, toHash(r))
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put receipt: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id int64) (Receipt, error) {
	m, err := s.db.HGetAll(ctx, key(id)).Result()
	if err != nil {
		return Receipt{}, fmt.Errorf("get receipt: %w", err)
	}
	if len(m) == 0 {
		return Receipt{}, ErrNotFound
	}
	return fromHash(id, m)
}

// Ping reports Redis health for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error { return s.db.Ping(ctx).Err() }

func toHash(r Receipt) map[string]any {
	return map[string]any{
		"seq":        r.Sequence,
		"topic":      r.Topic,
		"transport":  r.Transport,
		"receipt_id": r.ReceiptID,
		"at":         r.At.UTC().Format(time.RFC3339Nano),
	}
}

func fromHash(id int64, m map[string]string) (Receipt, error) {
	r := Receipt{SubscriptionID: id, Topic: m["topic"], Transport: m["transport"], ReceiptID: m["receipt_id"]}
	var err error
	if r.Sequence, err = strconv.Atoi(m["seq"]); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt seq: %w", err)
	}
	if r.At, err = time.Parse(time.RFC3339Nano, m["at"]); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt time: %w", err)
	}
	return r, nil
}
