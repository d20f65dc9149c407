package logprep

import "sync/atomic"

// Stats holds atomic counters for a single processor. All methods are
// safe for concurrent use.
type Stats struct {
	Processed   atomic.Uint64
	Matches     atomic.Uint64
	Warnings    atomic.Uint64
	Errors      atomic.Uint64
	CacheHits   atomic.Uint64
	CacheMisses atomic.Uint64
}

// RecordProcessed increments the processed event counter.
func (s *Stats) RecordProcessed() {
	s.Processed.Add(1)
}

// RecordMatch increments the match counter.
func (s *Stats) RecordMatch() {
	s.Matches.Add(1)
}

// RecordWarning increments the warning counter.
func (s *Stats) RecordWarning() {
	s.Warnings.Add(1)
}

// RecordError increments the error counter.
func (s *Stats) RecordError() {
	s.Errors.Add(1)
}

// RecordCacheHit increments the resolution cache hit counter.
func (s *Stats) RecordCacheHit() {
	s.CacheHits.Add(1)
}

// RecordCacheMiss increments the resolution cache miss counter.
func (s *Stats) RecordCacheMiss() {
	s.CacheMisses.Add(1)
}

// StatsSnapshot is an immutable copy of processor stats for reporting.
type StatsSnapshot struct {
	Processor   string
	Type        string
	Processed   uint64
	Matches     uint64
	Warnings    uint64
	Errors      uint64
	CacheHits   uint64
	CacheMisses uint64
}

// Snapshot creates an immutable snapshot of the current stats.
func (s *Stats) Snapshot(processor, processorType string) StatsSnapshot {
	return StatsSnapshot{
		Processor:   processor,
		Type:        processorType,
		Processed:   s.Processed.Load(),
		Matches:     s.Matches.Load(),
		Warnings:    s.Warnings.Load(),
		Errors:      s.Errors.Load(),
		CacheHits:   s.CacheHits.Load(),
		CacheMisses: s.CacheMisses.Load(),
	}
}
