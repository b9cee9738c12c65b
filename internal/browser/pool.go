package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iwsa-dev/iwsa/internal/config"
	"github.com/iwsa-dev/iwsa/internal/types"
)

const (
	// Budget after which an instance is recycled.
	maxRequestsPerInstance = 100
	maxInstanceAge         = time.Hour

	// Acquire waits this long for a free instance before forcing an
	// eviction, and gives up entirely at the hard timeout.
	acquireSoftTimeout = 30 * time.Second
	acquireHardTimeout = 60 * time.Second

	acquirePollInterval = 100 * time.Millisecond
)

// Factory creates a browser instance. Injected in tests.
type Factory func(id string) (*Instance, error)

// PoolStats is a point-in-time snapshot of the pool.
type PoolStats struct {
	Size      int   `json:"size"`
	InUse     int   `json:"in_use"`
	Created   int64 `json:"created"`
	Recycled  int64 `json:"recycled"`
	Evictions int64 `json:"evictions"`
}

// Pool owns up to max concurrent browser instances. Each instance serves
// one caller at a time and is recycled after its request budget or age
// limit.
type Pool struct {
	mu        sync.Mutex
	instances []*Instance
	max       int
	factory   Factory
	closed    bool

	created   atomic.Int64
	recycled  atomic.Int64
	evictions atomic.Int64

	nextID atomic.Int64
	logger *slog.Logger
}

// NewPool creates a pool backed by real browser launches.
func NewPool(cfg *config.ScrapingConfig, rotator *ProxyRotator, logger *slog.Logger) *Pool {
	log := logger.With("component", "browser_pool")
	factory := func(id string) (*Instance, error) {
		opts := LaunchOptions{Headless: cfg.Headless}
		if rotator != nil {
			opts.ProxyURL = rotator.Next()
		}
		return launch(id, opts, log)
	}
	return newPool(cfg.MaxConcurrentBrowsers, factory, log)
}

func newPool(max int, factory Factory, logger *slog.Logger) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{
		max:     max,
		factory: factory,
		logger:  logger,
	}
}

// Acquire returns an exclusive instance. It prefers a free healthy
// instance, launches a new one under the cap, and otherwise waits. After
// thirty seconds of waiting it force-recycles the least recently used
// instance; after sixty seconds it fails with ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Instance, error) {
	start := time.Now()
	evicted := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		inst, err := p.tryAcquire()
		if err != nil {
			return nil, err
		}
		if inst != nil {
			return inst, nil
		}

		waited := time.Since(start)
		if waited >= acquireHardTimeout {
			return nil, fmt.Errorf("no browser free after %s: %w", waited.Round(time.Second), types.ErrPoolExhausted)
		}
		if waited >= acquireSoftTimeout && !evicted {
			if p.evictLRU() {
				evicted = true
				continue
			}
		}

		t := time.NewTimer(acquirePollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// tryAcquire claims a free instance or launches a new one under the cap.
// Returns (nil, nil) when the pool is saturated.
func (p *Pool) tryAcquire() (*Instance, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("browser pool is closed")
	}

	// Retire expired free instances before considering them.
	p.reapLocked()

	for _, inst := range p.instances {
		if !inst.inUse {
			inst.inUse = true
			inst.requests++
			inst.lastUsed = time.Now()
			p.mu.Unlock()
			return inst, nil
		}
	}

	if len(p.instances) >= p.max {
		p.mu.Unlock()
		return nil, nil
	}

	// Reserve a slot, then launch outside the lock.
	id := fmt.Sprintf("browser_%d", p.nextID.Add(1))
	placeholder := &Instance{ID: id, inUse: true, createdAt: time.Now(), lastUsed: time.Now()}
	p.instances = append(p.instances, placeholder)
	p.mu.Unlock()

	inst, err := p.factory(id)

	p.mu.Lock()
	p.removeLocked(placeholder)
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("launch instance: %w", err)
	}
	inst.ID = id
	inst.inUse = true
	inst.requests = 1
	inst.lastUsed = time.Now()
	p.instances = append(p.instances, inst)
	p.mu.Unlock()

	p.created.Add(1)
	p.logger.Info("browser launched", "instance", id, "pool_size", p.Stats().Size)
	return inst, nil
}

// Release returns an instance to the pool. Instances past their budget
// are closed and dropped instead of going back into rotation.
func (p *Pool) Release(inst *Instance) {
	p.mu.Lock()
	inst.inUse = false
	inst.lastUsed = time.Now()

	if inst.expired(maxRequestsPerInstance, maxInstanceAge) {
		p.removeLocked(inst)
		p.mu.Unlock()
		p.recycled.Add(1)
		p.logger.Info("browser recycled", "instance", inst.ID, "requests", inst.requests, "age", inst.Age().Round(time.Second))
		if err := inst.Close(); err != nil {
			p.logger.Warn("browser close failed", "instance", inst.ID, "error", err)
		}
		return
	}
	p.mu.Unlock()
}

// Discard permanently retires an instance instead of returning it to
// rotation. Callers use it when the instance's identity is burned, e.g.
// after a persistent anti-bot challenge.
func (p *Pool) Discard(inst *Instance) {
	p.mu.Lock()
	p.removeLocked(inst)
	p.mu.Unlock()

	p.recycled.Add(1)
	p.logger.Info("browser discarded", "instance", inst.ID, "requests", inst.requests)
	if err := inst.Close(); err != nil {
		p.logger.Warn("browser close failed", "instance", inst.ID, "error", err)
	}
}

// evictLRU force-closes the least recently used free instance to make
// room for a fresh launch. Returns false when every instance is busy.
func (p *Pool) evictLRU() bool {
	p.mu.Lock()
	var victim *Instance
	for _, inst := range p.instances {
		if inst.inUse {
			continue
		}
		if victim == nil || inst.lastUsed.Before(victim.lastUsed) {
			victim = inst
		}
	}
	if victim == nil {
		p.mu.Unlock()
		return false
	}
	p.removeLocked(victim)
	p.mu.Unlock()

	p.evictions.Add(1)
	p.logger.Warn("evicting idle browser under pressure", "instance", victim.ID)
	_ = victim.Close()
	return true
}

// reapLocked drops expired free instances. Caller holds the lock.
func (p *Pool) reapLocked() {
	kept := p.instances[:0]
	for _, inst := range p.instances {
		if !inst.inUse && inst.expired(maxRequestsPerInstance, maxInstanceAge) {
			p.recycled.Add(1)
			go func(i *Instance) { _ = i.Close() }(inst)
			continue
		}
		kept = append(kept, inst)
	}
	p.instances = kept
}

func (p *Pool) removeLocked(target *Instance) {
	for i, inst := range p.instances {
		if inst == target {
			p.instances = append(p.instances[:i], p.instances[i+1:]...)
			return
		}
	}
}

// Stats snapshots the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	inUse := 0
	for _, inst := range p.instances {
		if inst.inUse {
			inUse++
		}
	}
	return PoolStats{
		Size:      len(p.instances),
		InUse:     inUse,
		Created:   p.created.Load(),
		Recycled:  p.recycled.Load(),
		Evictions: p.evictions.Load(),
	}
}

// Close shuts down every instance. Safe to call once.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	instances := p.instances
	p.instances = nil
	p.mu.Unlock()

	var firstErr error
	for _, inst := range instances {
		if err := inst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
