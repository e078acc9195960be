package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ammar0144/sql4go/pkg/db"
)

// RowCache stores raw table rows in Redis, keyed by table and primary key.
// Rows are msgpack encoded; keys hash the primary key with xxhash so string
// keys of any length produce bounded cache keys.
type RowCache struct {
	manager   *Manager
	namespace string
	logger    *slog.Logger
}

// NewRowCache creates a row cache scoped to one database namespace
func NewRowCache(manager *Manager, namespace string, logger *slog.Logger) *RowCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RowCache{manager: manager, namespace: namespace, logger: logger}
}

// Key builds the cache key of one row
// Format: <prefix>:<namespace>:<table>:row:<xxhash of key>
func (c *RowCache) Key(table string, key any) string {
	sum := xxhash.Sum64String(fmt.Sprintf("%T:%v", key, key))
	return strings.Join([]string{c.prefix(), c.namespace, table, cacheRowSegment, strconv.FormatUint(sum, 16)}, cacheKeySeparator)
}

func (c *RowCache) prefix() string {
	if c.manager.config.KeyPrefix != "" {
		return c.manager.config.KeyPrefix
	}
	return "sql4go"
}

// GetRows returns the cached rows among keys. A disabled cache reports no hits.
func (c *RowCache) GetRows(ctx context.Context, table string, keys []any) (map[any]db.Row, error) {
	out := make(map[any]db.Row, len(keys))
	if !c.manager.config.Enabled || len(keys) == 0 {
		return out, nil
	}

	cacheKeys := make([]string, len(keys))
	byCacheKey := make(map[string]any, len(keys))
	for i, k := range keys {
		cacheKeys[i] = c.Key(table, k)
		byCacheKey[cacheKeys[i]] = k
	}

	values, err := c.manager.MGet(ctx, cacheKeys)
	if err != nil {
		return out, err
	}
	for ck, data := range values {
		var row map[string]interface{}
		if err := decodeValue(data, &row); err != nil {
			c.logger.Warn("dropping undecodable cached row", "table", table, "key", ck, "error", err)
			_ = c.manager.Delete(ctx, ck)
			continue
		}
		out[byCacheKey[ck]] = db.Row(row)
	}

	if c.manager.config.Logging.LogCacheHits && len(out) > 0 {
		c.logger.Debug("row cache hit", "table", table, "rows", len(out))
	}
	if c.manager.config.Logging.LogCacheMisses && len(out) < len(keys) {
		c.logger.Debug("row cache miss", "table", table, "rows", len(keys)-len(out))
	}
	return out, nil
}

// SetRows caches rows under their keys with the default TTL
func (c *RowCache) SetRows(ctx context.Context, table string, rows map[any]db.Row) error {
	if !c.manager.config.Enabled || len(rows) == 0 {
		return nil
	}
	if err := c.manager.checkClient(); err != nil {
		return err
	}

	start := time.Now()
	pipe := c.manager.client.Pipeline()
	for k, row := range rows {
		data, err := msgpack.Marshal(map[string]interface{}(row))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		pipe.Set(ctx, c.Key(table, k), data, c.manager.config.DefaultTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.manager.metrics.RecordCacheError()
		return fmt.Errorf("redis pipeline error: %w", err)
	}
	c.manager.metrics.RecordSet(time.Since(start))
	return nil
}

// Invalidate drops the cached rows of keys
func (c *RowCache) Invalidate(ctx context.Context, table string, keys []any) error {
	if !c.manager.config.Enabled || len(keys) == 0 {
		return nil
	}

	cacheKeys := make([]string, len(keys))
	for i, k := range keys {
		cacheKeys[i] = c.Key(table, k)
	}
	if err := c.manager.DeleteKeys(ctx, cacheKeys); err != nil {
		return err
	}
	if c.manager.config.Logging.LogInvalidations {
		c.logger.Debug("row cache invalidated", "table", table, "rows", len(keys))
	}
	return nil
}

// Purge drops every cached row of a table
func (c *RowCache) Purge(ctx context.Context, table string) error {
	if !c.manager.config.Enabled {
		return nil
	}
	pattern := strings.Join([]string{c.prefix(), c.namespace, table, cacheRowSegment, "*"}, cacheKeySeparator)
	return c.manager.InvalidatePattern(ctx, pattern)
}
