package redis

import "errors"

// Sentinel errors for row cache operations
var (
	// ErrCacheDisabled is returned by raw operations on a manager whose cache is
	// disabled. RowCache methods treat a disabled cache as empty instead.
	ErrCacheDisabled = errors.New("redis cache is disabled")

	// ErrClientNotInitialized is returned when the cache is enabled but no client exists
	ErrClientNotInitialized = errors.New("redis client not initialized")

	// ErrKeyNotFound is returned by Get for a missing key
	ErrKeyNotFound = errors.New("cache key not found")

	// ErrConnectionFailed is returned when Ping cannot reach Redis
	ErrConnectionFailed = errors.New("redis connection failed")

	// ErrSerializationFailed is returned when a cached row cannot be msgpack encoded or decoded
	ErrSerializationFailed = errors.New("cache serialization failed")
)

// IsCacheDisabled checks if an error is ErrCacheDisabled
func IsCacheDisabled(err error) bool {
	return errors.Is(err, ErrCacheDisabled)
}

// IsKeyNotFound checks if an error is ErrKeyNotFound
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsConnectionFailed checks if an error is ErrConnectionFailed
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsSerializationFailed checks if an error is ErrSerializationFailed
func IsSerializationFailed(err error) bool {
	return errors.Is(err, ErrSerializationFailed)
}
