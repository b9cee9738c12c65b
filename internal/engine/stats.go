package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats tracks run statistics across the engine's lifetime.
type Stats struct {
	RunsStarted    atomic.Int64
	RunsSucceeded  atomic.Int64
	RunsFailed     atomic.Int64
	PagesProcessed atomic.Int64
	RowsExtracted  atomic.Int64
	RowsDeduped    atomic.Int64
	RowsStored     atomic.Int64
	StartTime      time.Time

	mu          sync.RWMutex
	domainStats map[string]*DomainStats
}

// DomainStats tracks per-domain run outcomes.
type DomainStats struct {
	Runs    int64
	Rows    int64
	Errors  int64
	LastRun time.Time
}

func NewStats() *Stats {
	return &Stats{
		StartTime:   time.Now(),
		domainStats: make(map[string]*DomainStats),
	}
}

func (s *Stats) recordDomain(domain string, rows int, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.domainStats[domain]
	if !ok {
		ds = &DomainStats{}
		s.domainStats[domain] = ds
	}
	ds.Runs++
	ds.Rows += int64(rows)
	if failed {
		ds.Errors++
	}
	ds.LastRun = time.Now()
}

// Domain returns a copy of one domain's stats.
func (s *Stats) Domain(domain string) (DomainStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.domainStats[domain]
	if !ok {
		return DomainStats{}, false
	}
	return *ds, true
}

// Snapshot returns a copy of the counters safe for reading.
func (s *Stats) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"runs_started":    s.RunsStarted.Load(),
		"runs_succeeded":  s.RunsSucceeded.Load(),
		"runs_failed":     s.RunsFailed.Load(),
		"pages_processed": s.PagesProcessed.Load(),
		"rows_extracted":  s.RowsExtracted.Load(),
		"rows_deduped":    s.RowsDeduped.Load(),
		"rows_stored":     s.RowsStored.Load(),
		"domains":         len(s.domainStats),
		"elapsed":         time.Since(s.StartTime).String(),
	}
}
