package main

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/conductorctl/conductor/internal/cliexec"
	"github.com/conductorctl/conductor/internal/config"
	"github.com/conductorctl/conductor/internal/depgraph"
	"github.com/conductorctl/conductor/internal/orchestrator"
	"github.com/conductorctl/conductor/internal/planner"
	"github.com/conductorctl/conductor/internal/project"
	"github.com/conductorctl/conductor/internal/resource"
	"github.com/conductorctl/conductor/internal/team"
	"github.com/conductorctl/conductor/internal/worker"
)

// processSampler feeds the Resource Manager's background sampler from
// this process's own runtime stats: allocated heap bytes as memory, and
// live goroutine count normalized against GOMAXPROCS as a CPU proxy.
// There is no per-subprocess CPU/memory accounting available (each
// Worker's LLM CLI is a short-lived, unrelated process), so the sampler
// tracks conductor's own footprint rather than its children's.
type processSampler struct{}

func (processSampler) Sample() (memoryMB, cpuPercent float64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryMB = float64(m.Alloc) / (1024 * 1024)

	procs := runtime.GOMAXPROCS(0)
	if procs < 1 {
		procs = 1
	}
	cpuPercent = float64(runtime.NumGoroutine()) / float64(procs)
	return memoryMB, cpuPercent
}

// leadRegistry is orchestrator.Leads backed by real team.Lead instances,
// one per team, each dispatching real worker.Worker instances through the
// shared CLI Invoker and Store.
type leadRegistry struct {
	invoker     *cliexec.Invoker
	store       *project.Store
	providers   map[string]config.Provider
	maxAttempts int
	baseTimeout time.Duration

	mu    sync.Mutex
	leads map[project.Team]*team.Lead
}

func newLeadRegistry(inv *cliexec.Invoker, store *project.Store, providers map[string]config.Provider, maxAttempts int, baseTimeout time.Duration) *leadRegistry {
	return &leadRegistry{
		invoker:     inv,
		store:       store,
		providers:   providers,
		maxAttempts: maxAttempts,
		baseTimeout: baseTimeout,
		leads:       make(map[project.Team]*team.Lead),
	}
}

func (r *leadRegistry) For(t project.Team) *team.Lead {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.leads[t]; ok {
		return l
	}
	l := team.New(t, r.workerFactory(t))
	r.leads[t] = l
	return l
}

func (r *leadRegistry) workerFactory(t project.Team) team.WorkerFactory {
	return func(agentID, specialty string) team.Runner {
		w := worker.New(agentID, r.invoker, r.store, r.providers, r.maxAttempts, r.baseTimeout)
		return w
	}
}

// buildOrchestrator wires every component together from a Config.
func buildOrchestrator(cfg config.Config) (*orchestrator.Orchestrator, *project.Store, error) {
	store, err := project.NewStore(cfg.ProjectsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("init project store: %w", err)
	}

	inv := cliexec.New()
	baseTimeout := time.Duration(cfg.BaseTimeoutS) * time.Second

	planningProvider, ok := cfg.Providers["planner"]
	if !ok {
		planningProvider, ok = cfg.Providers["general"]
	}
	if !ok {
		return nil, nil, fmt.Errorf("no planning or general provider configured")
	}
	pl := planner.New(inv, planningProvider, cfg.MaxAttempts, baseTimeout)

	limits := resource.Limits{
		TokensPerMinute:  cfg.ResourceLimits.TokensPerMinute,
		MemoryMB:         cfg.ResourceLimits.MemoryMB,
		CPUPercent:       cfg.ResourceLimits.CPUPercent,
		ConcurrentAgents: cfg.ResourceLimits.ConcurrentAgents,
	}
	res := resource.NewManager(limits)
	res.StartSampling(processSampler{}, time.Second)

	leads := newLeadRegistry(inv, store, cfg.Providers, cfg.MaxAttempts, baseTimeout)
	strategy := depgraph.StrategyByName(string(cfg.Strategy))

	o := orchestrator.New(store, pl, res, leads, strategy, cfg.Mode)
	return o, store, nil
}

func configSnapshotOf(cfg config.Config) map[string]any {
	return map[string]any{
		"max_attempts":   cfg.MaxAttempts,
		"base_timeout_s": cfg.BaseTimeoutS,
		"strategy":       string(cfg.Strategy),
		"mode":           string(cfg.Mode),
	}
}
