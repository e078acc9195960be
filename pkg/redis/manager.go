package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	cacheKeySeparator = ":"
	cacheRowSegment   = "row"
)

// Manager owns the Redis client behind the row cache
type Manager struct {
	config  *Config
	client  redis.UniversalClient
	metrics *Metrics
}

// NewManager validates config and, when the cache is enabled, creates a
// single-node or cluster client. No connection is made until first use.
func NewManager(config *Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	m := &Manager{config: config, metrics: NewMetrics()}
	if config.Enabled {
		m.client = newClient(config)
	}
	return m, nil
}

func newClient(c *Config) redis.UniversalClient {
	opts := &redis.UniversalOptions{
		Addrs:           []string{c.GetAddr()},
		DB:              c.Database,
		Password:        c.Password,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		PoolTimeout:     c.PoolTimeout,
		ConnMaxLifetime: c.MaxConnAge,
		ConnMaxIdleTime: c.IdleTimeout,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
	}
	if !c.IsClusterMode() {
		return redis.NewClient(opts.Simple())
	}

	opts.Addrs = c.Cluster.Addresses
	opts.Username = c.Cluster.Username
	opts.Password = c.Cluster.Password
	return redis.NewClusterClient(opts.Cluster())
}

// Close releases the client, if any
func (m *Manager) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Ping checks connectivity. A disabled cache has nothing to reach and
// reports no error.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (m *Manager) checkClient() error {
	switch {
	case !m.config.Enabled:
		return ErrCacheDisabled
	case m.client == nil:
		return ErrClientNotInitialized
	}
	return nil
}

// Get reads one key. A missing key is ErrKeyNotFound.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := m.client.Get(ctx, key).Bytes()
	m.metrics.RecordGet(time.Since(start))

	switch {
	case errors.Is(err, redis.Nil):
		m.metrics.RecordCacheMiss()
		return nil, ErrKeyNotFound
	case err != nil:
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	m.metrics.RecordCacheHit()
	return data, nil
}

// MGet retrieves several keys in one round trip. Missing keys are absent
// from the result.
func (m *Manager) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	start := time.Now()
	values, err := m.client.MGet(ctx, keys...).Result()
	m.metrics.RecordGet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis mget error: %w", err)
	}

	out := make(map[string][]byte, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			m.metrics.RecordCacheMiss()
			continue
		}
		m.metrics.RecordCacheHit()
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

// Set writes one key with the default TTL
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	start := time.Now()
	err := m.client.Set(ctx, key, value, m.config.DefaultTTL).Err()
	m.metrics.RecordSet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
	}
	return err
}

// Delete removes one key
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.DeleteKeys(ctx, []string{key})
}

// DeleteKeys removes keys in one DEL and counts it as one invalidation
func (m *Manager) DeleteKeys(ctx context.Context, keys []string) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := m.client.Del(ctx, keys...).Err()
	m.metrics.RecordDelete(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return err
	}
	m.metrics.RecordInvalidation()
	return nil
}

// InvalidatePattern deletes every key matching pattern, walking the keyspace
// with SCAN so Redis is never blocked the way KEYS would block it
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	const scanCount = 100
	iter := m.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	batch := make([]string, 0, scanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanCount {
			if err := m.DeleteKeys(ctx, batch); err != nil {
				return fmt.Errorf("invalidate %s: %w", pattern, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	if err := m.DeleteKeys(ctx, batch); err != nil {
		return fmt.Errorf("invalidate %s: %w", pattern, err)
	}
	return nil
}

// decodeValue decodes msgpack with integers held in interface{} values
// widened to int64 or uint64 whatever their wire size
func decodeValue(data []byte, target interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return nil
}

// GetMetrics returns current row cache statistics
func (m *Manager) GetMetrics() MetricsSnapshot {
	if m.metrics == nil {
		return MetricsSnapshot{}
	}
	return m.metrics.Snapshot()
}
