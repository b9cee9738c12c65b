package llm

import (
	"context"
	"time"
)

// Aggregate health levels.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

const healthProbeTimeout = 10 * time.Second

// BackendHealth is the probe result for one backend.
type BackendHealth struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// HealthReport aggregates backend probes. Overall is critical when no
// backend answered, healthy when every available backend answered, and
// degraded in between.
type HealthReport struct {
	Overall  string          `json:"overall"`
	Backends []BackendHealth `json:"backends"`
}

// HealthCheck probes every available backend with a minimal generation
// request, each bounded to ten seconds. Probes bypass the breakers so a
// check never consumes failure budget.
func (o *Orchestrator) HealthCheck(ctx context.Context) *HealthReport {
	report := &HealthReport{}

	healthy := 0
	probed := 0
	for _, b := range o.backends {
		h := BackendHealth{Name: b.Name()}
		if !b.Available() {
			h.Error = "not configured"
			report.Backends = append(report.Backends, h)
			continue
		}

		probed++
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		start := time.Now()
		_, err := b.Generate(probeCtx, healthProbeRequest())
		cancel()

		h.Latency = time.Since(start)
		if err != nil {
			h.Error = err.Error()
		} else {
			h.Healthy = true
			healthy++
		}
		report.Backends = append(report.Backends, h)
	}

	switch {
	case healthy == 0:
		report.Overall = HealthCritical
	case healthy == probed:
		report.Overall = HealthHealthy
	default:
		report.Overall = HealthDegraded
	}
	return report
}
