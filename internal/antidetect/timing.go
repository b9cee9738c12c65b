package antidetect

import (
	"sync"
	"time"
)

const (
	timingWindow        = time.Hour
	minMeanInterval     = time.Second
	minAnyInterval      = 500 * time.Millisecond
	minDistinctRatio    = 0.30
	intervalGranularity = 100 * time.Millisecond
)

// TimingMonitor tracks per-domain request timestamps over a sliding hour
// and flags patterns a rate detector would consider robotic: too fast on
// average, any burst below half a second, or intervals too uniform.
type TimingMonitor struct {
	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

func NewTimingMonitor() *TimingMonitor {
	return &TimingMonitor{
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Record notes one request to the domain.
func (m *TimingMonitor) Record(domain string) {
	m.recordAt(domain, m.now())
}

func (m *TimingMonitor) recordAt(domain string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[domain] = append(m.prune(m.history[domain], t), t)
}

// Suspicious reports whether the domain's recent request pattern looks
// machine-generated. Needs at least three requests to judge.
func (m *TimingMonitor) Suspicious(domain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.prune(m.history[domain], m.now())
	m.history[domain] = ts
	if len(ts) < 3 {
		return false
	}

	intervals := make([]time.Duration, 0, len(ts)-1)
	var total time.Duration
	for i := 1; i < len(ts); i++ {
		iv := ts[i].Sub(ts[i-1])
		intervals = append(intervals, iv)
		total += iv
		if iv < minAnyInterval {
			return true
		}
	}

	if total/time.Duration(len(intervals)) < minMeanInterval {
		return true
	}

	// Uniformity check: bucket intervals to 100ms and count distinct values.
	distinct := make(map[time.Duration]struct{}, len(intervals))
	for _, iv := range intervals {
		distinct[iv.Round(intervalGranularity)] = struct{}{}
	}
	ratio := float64(len(distinct)) / float64(len(intervals))
	return ratio < minDistinctRatio
}

// prune drops timestamps older than the window.
func (m *TimingMonitor) prune(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-timingWindow)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
