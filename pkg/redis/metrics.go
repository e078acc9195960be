package redis

import (
	"sync/atomic"
	"time"
)

// Metrics tracks row cache statistics. Hits and misses count rows, not round
// trips: one MGet of ten keys with three cached rows is three hits and seven
// misses.
type Metrics struct {
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	cacheErrors atomic.Uint64

	gets    opStats
	sets    opStats
	deletes opStats

	invalidations atomic.Uint64
}

// opStats counts round trips of one kind and their total latency
type opStats struct {
	count   atomic.Uint64
	latency atomic.Uint64 // nanoseconds
}

func (s *opStats) record(d time.Duration) {
	s.count.Add(1)
	s.latency.Add(uint64(d.Nanoseconds()))
}

func (s *opStats) snapshot() OpSnapshot {
	n := s.count.Load()
	if n == 0 {
		return OpSnapshot{}
	}
	return OpSnapshot{Count: n, AvgLatency: time.Duration(s.latency.Load() / n)}
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCacheHit counts one row served from Redis
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss counts one row Redis did not hold
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordCacheError counts a failed round trip
func (m *Metrics) RecordCacheError() {
	m.cacheErrors.Add(1)
}

// RecordGet records a read round trip (GET or MGET)
func (m *Metrics) RecordGet(d time.Duration) {
	m.gets.record(d)
}

// RecordSet records a write round trip (SET or a pipeline of them)
func (m *Metrics) RecordSet(d time.Duration) {
	m.sets.record(d)
}

// RecordDelete records a DEL round trip
func (m *Metrics) RecordDelete(d time.Duration) {
	m.deletes.record(d)
}

// RecordInvalidation counts one eviction batch
func (m *Metrics) RecordInvalidation() {
	m.invalidations.Add(1)
}

// Snapshot returns the current values
func (m *Metrics) Snapshot() MetricsSnapshot {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return MetricsSnapshot{
		CacheHits:         hits,
		CacheMisses:       misses,
		CacheErrors:       m.cacheErrors.Load(),
		CacheHitRate:      hitRate,
		Gets:              m.gets.snapshot(),
		Sets:              m.sets.snapshot(),
		Deletes:           m.deletes.snapshot(),
		InvalidationCount: m.invalidations.Load(),
	}
}

// OpSnapshot summarizes one kind of round trip
type OpSnapshot struct {
	Count      uint64
	AvgLatency time.Duration
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	CacheHits    uint64
	CacheMisses  uint64
	CacheErrors  uint64
	CacheHitRate float64 // percentage of rows served from Redis

	Gets    OpSnapshot
	Sets    OpSnapshot
	Deletes OpSnapshot

	InvalidationCount uint64
}
