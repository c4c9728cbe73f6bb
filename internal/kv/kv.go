package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store is the shared key/value layer: dedup markers, rate-limit counters,
// expert-view caches, heat result caches and the scheduler heartbeat all
// live here under distinct prefixes.
type Store struct {
	client *redis.Client
}

const (
	prefixDedup  = "tp:dedup:"
	prefixRate   = "tp:rate:"
	prefixHeat   = "tp:heat:"
	prefixExpert = "tp:expert:"
	prefixSignal = "tp:signals:"

	heartbeatKey = "tp:scheduler:beat"
)

// New connects to Redis and verifies the connection.
func New(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client; used by tests with redismock.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Get returns (value, found, error). A missing key is not an error.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set stores a value with a TTL. Zero TTL means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// DedupKey namespaces a card state-version marker.
func DedupKey(eventKey string) string {
	return prefixDedup + eventKey
}

// HeatKey namespaces a cached heat result for one identifier/time bucket.
func HeatKey(ident string, bucket int64) string {
	return fmt.Sprintf("%s%s:%d", prefixHeat, ident, bucket)
}

// ExpertKey namespaces a cached expert on-chain view.
func ExpertKey(chain, address string) string {
	return fmt.Sprintf("%s%s:%s", prefixExpert, chain, address)
}

// SignalKey namespaces a cached signal API response.
func SignalKey(eventKey string) string {
	return prefixSignal + eventKey
}

// TTL reports the remaining lifetime of a key. Missing keys and keys
// without expiry both report zero.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// IncrRate atomically increments a per-minute rate bucket and returns the
// new count. The key expires with the bucket so counters never leak.
func (s *Store) IncrRate(ctx context.Context, name string, now time.Time) (int64, error) {
	key := fmt.Sprintf("%s%s:%d", prefixRate, name, now.Unix()/60)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis rate incr: %w", err)
	}
	return incr.Val(), nil
}

// Beat refreshes the scheduler heartbeat.
func (s *Store) Beat(ctx context.Context, now time.Time) error {
	return s.Set(ctx, heartbeatKey, fmt.Sprintf("%d", now.Unix()), 0)
}

// BeatAge reports how long ago the heartbeat was refreshed. A missing
// heartbeat reports found=false.
func (s *Store) BeatAge(ctx context.Context, now time.Time) (time.Duration, bool, error) {
	val, found, err := s.Get(ctx, heartbeatKey)
	if err != nil || !found {
		return 0, found, err
	}
	var unix int64
	if _, err := fmt.Sscanf(val, "%d", &unix); err != nil {
		return 0, false, fmt.Errorf("malformed heartbeat %q: %w", val, err)
	}
	return now.Sub(time.Unix(unix, 0)), true, nil
}

// Ping verifies liveness for the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
