// Package resource implements admission control and bookkeeping across
// tokens/memory/CPU/concurrent-agents budgets, with a background sampler
// for headroom-based concurrency advice.
package resource

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits is the configured ceiling for every tracked dimension.
type Limits struct {
	TokensPerMinute  int
	MemoryMB         int
	CPUPercent       int
	ConcurrentAgents int
}

// Allocation is the resource tuple a group's admission request is
// additive over.
type Allocation struct {
	Tokens           int
	MemoryMB         int
	CPUPercent       int
	ConcurrentAgents int
}

// Metrics is the snapshot returned by Manager.Snapshot, exposing both the
// configured limit and current usage of every dimension so callers (and
// tests) can assert on optimal_concurrency's derivation.
type Metrics struct {
	TokensUsed, TokensLimit                     int
	MemoryUsedMB, MemoryLimitMB                 int
	CPUUsedPercent, CPULimitPercent             int
	ConcurrentAgents, ConcurrentAgentsLimit     int
	SampledMemoryMB, SampledCPUPercent          float64
}

// Manager admits or rejects resource allocations across every tracked
// dimension, and samples real process memory/CPU at a fixed cadence for
// optimal_concurrency's headroom estimate.
//
// Fairness: try_acquire is a single non-blocking attempt guarded by one
// admission lock, so waiters never observe priority inversion; FIFO
// ordering among blocked callers is left to the caller.
type Manager struct {
	limits Limits

	mu          sync.Mutex
	outstanding map[string]Allocation
	memoryMB    int
	cpuPercent  int
	agents      int

	tokenLimiter *rate.Limiter

	sampleMu  sync.Mutex
	history   []sample
	maxSample int

	stopSampler chan struct{}
	sampleOnce  sync.Once
}

type sample struct {
	at         time.Time
	memoryMB   float64
	cpuPercent float64
}

// NewManager creates a Manager with the given limits. The token dimension
// is tracked with a token-bucket rate.Limiter refilling at
// limits.TokensPerMinute per minute, grounded on the same token-bucket
// idiom the example pack uses for request throttling.
func NewManager(limits Limits) *Manager {
	perSecond := float64(limits.TokensPerMinute) / 60.0
	burst := limits.TokensPerMinute
	if burst < 1 {
		burst = 1
	}
	return &Manager{
		limits:      limits,
		outstanding: make(map[string]Allocation),
		tokenLimiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		maxSample:   300, // five minutes of history at 1 Hz
		stopSampler: make(chan struct{}),
	}
}

// TryAcquire admits alloc iff every dimension, with alloc added, stays
// within its configured limit. Non-blocking: on denial it returns false
// and reserves nothing.
func (m *Manager) TryAcquire(key string, alloc Allocation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memoryMB+alloc.MemoryMB > m.limits.MemoryMB {
		return false
	}
	if m.cpuPercent+alloc.CPUPercent > m.limits.CPUPercent {
		return false
	}
	if m.agents+alloc.ConcurrentAgents > m.limits.ConcurrentAgents {
		return false
	}
	if alloc.Tokens > 0 && !m.tokenLimiter.AllowN(time.Now(), alloc.Tokens) {
		return false
	}

	m.outstanding[key] = alloc
	m.memoryMB += alloc.MemoryMB
	m.cpuPercent += alloc.CPUPercent
	m.agents += alloc.ConcurrentAgents
	return true
}

// Release returns a previously admitted allocation's resources.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.outstanding[key]
	if !ok {
		return
	}
	delete(m.outstanding, key)
	m.memoryMB -= alloc.MemoryMB
	m.cpuPercent -= alloc.CPUPercent
	m.agents -= alloc.ConcurrentAgents
}

// OptimalConcurrency returns a concurrency recommendation clamped by
// observed headroom: the configured agent ceiling, reduced if recent
// samples show memory or CPU usage is already close to its limit.
func (m *Manager) OptimalConcurrency() int {
	m.mu.Lock()
	limit := m.limits.ConcurrentAgents
	m.mu.Unlock()

	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()
	if len(m.history) == 0 {
		return limit
	}

	last := m.history[len(m.history)-1]
	memHeadroom := 1.0
	if m.limits.MemoryMB > 0 {
		memHeadroom = 1.0 - last.memoryMB/float64(m.limits.MemoryMB)
	}
	cpuHeadroom := 1.0
	if m.limits.CPUPercent > 0 {
		cpuHeadroom = 1.0 - last.cpuPercent/float64(m.limits.CPUPercent)
	}
	headroom := memHeadroom
	if cpuHeadroom < headroom {
		headroom = cpuHeadroom
	}
	if headroom < 0 {
		headroom = 0
	}

	scaled := int(float64(limit) * headroom)
	if scaled < 1 {
		scaled = 1
	}
	if scaled > limit {
		scaled = limit
	}
	return scaled
}

// Snapshot returns the current usage and limit of every dimension.
func (m *Manager) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokensUsed := m.limits.TokensPerMinute - int(m.tokenLimiter.Tokens())
	if tokensUsed < 0 {
		tokensUsed = 0
	}

	met := Metrics{
		TokensUsed:             tokensUsed,
		TokensLimit:            m.limits.TokensPerMinute,
		MemoryUsedMB:           m.memoryMB,
		MemoryLimitMB:          m.limits.MemoryMB,
		CPUUsedPercent:         m.cpuPercent,
		CPULimitPercent:        m.limits.CPUPercent,
		ConcurrentAgents:       m.agents,
		ConcurrentAgentsLimit:  m.limits.ConcurrentAgents,
	}

	m.sampleMu.Lock()
	if len(m.history) > 0 {
		last := m.history[len(m.history)-1]
		met.SampledMemoryMB = last.memoryMB
		met.SampledCPUPercent = last.cpuPercent
	}
	m.sampleMu.Unlock()

	return met
}

// Sampler is the source of real process metrics for the background
// sampling loop. Implemented in production by a process-stats package;
// tests supply a fake.
type Sampler interface {
	Sample() (memoryMB, cpuPercent float64)
}

// StartSampling launches the background sampler at the given cadence
// (a fixed cadence, e.g. 1 Hz, is typical), maintaining a bounded-length
// history. Call StopSampling to stop it; safe to call StartSampling at
// most once per Manager.
func (m *Manager) StartSampling(s Sampler, cadence time.Duration) {
	m.sampleOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(cadence)
			defer ticker.Stop()
			for {
				select {
				case <-m.stopSampler:
					return
				case t := <-ticker.C:
					mem, cpu := s.Sample()
					m.recordSample(sample{at: t, memoryMB: mem, cpuPercent: cpu})
				}
			}
		}()
	})
}

// StopSampling halts the background sampler.
func (m *Manager) StopSampling() {
	select {
	case <-m.stopSampler:
		// already stopped
	default:
		close(m.stopSampler)
	}
}

func (m *Manager) recordSample(s sample) {
	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()
	m.history = append(m.history, s)
	if len(m.history) > m.maxSample {
		m.history = m.history[len(m.history)-m.maxSample:]
	}
}
