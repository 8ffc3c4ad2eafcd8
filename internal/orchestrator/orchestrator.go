// Package orchestrator implements the project-level state machine that
// drives planning, then stage-by-stage execution, to a terminal status.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conductorctl/conductor/internal/config"
	"github.com/conductorctl/conductor/internal/depgraph"
	"github.com/conductorctl/conductor/internal/logger"
	"github.com/conductorctl/conductor/internal/project"
	"github.com/conductorctl/conductor/internal/resource"
	"github.com/conductorctl/conductor/internal/team"
)

// per-agent resource estimates used to size a group's C9 allocation.
// There is no token/memory/cpu accounting feedback from the LLM CLI
// itself (stdout carries no usage report), so the allocation is a fixed
// per-agent estimate rather than a measured cost.
const (
	estTokensPerAgent = 2000
	estMemoryMBPerAgent = 256
	estCPUPercentPerAgent = 50
)

// retryAdmissionDelay is how long the main loop waits before trying the
// same stage again after every group in it was denied admission. A stuck
// queue is bounded by the caller's ctx, never treated as a failure on
// its own.
const retryAdmissionDelay = 500 * time.Millisecond

// Leads resolves a Lead for a team, constructing it lazily. Tests supply
// a fake; production wiring constructs one team.Lead per team backed by
// real cliexec/project/config dependencies.
type Leads interface {
	For(t project.Team) *team.Lead
}

// Planner is the subset of planner.Planner the Orchestrator depends on,
// so tests can substitute a fake without a real CLI Invoker.
type Planner interface {
	Plan(ctx context.Context, objective string) ([]*project.Task, error)
}

// Orchestrator drives one project at a time through planning and
// execution to a terminal status.
type Orchestrator struct {
	Store     *project.Store
	Planner   Planner
	Resources *resource.Manager
	Leads     Leads
	Strategy  depgraph.Strategy
	Mode      config.Mode

	paused atomic.Bool
}

// New creates an Orchestrator.
func New(store *project.Store, pl Planner, res *resource.Manager, leads Leads, strategy depgraph.Strategy, mode config.Mode) *Orchestrator {
	return &Orchestrator{Store: store, Planner: pl, Resources: res, Leads: leads, Strategy: strategy, Mode: mode}
}

// Pause blocks new stage admissions; outstanding Workers run to
// completion. Pause is cooperative: no subprocess already running is
// cancelled.
func (o *Orchestrator) Pause() { o.paused.Store(true) }

// Resume clears a prior Pause.
func (o *Orchestrator) Resume() { o.paused.Store(false) }

// Start creates a brand new project for objective and drives it to a
// terminal status.
func (o *Orchestrator) Start(ctx context.Context, objective string, configSnapshot map[string]any) (*project.Project, error) {
	p, err := o.Store.Create(objective, configSnapshot)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return o.drive(ctx, p)
}

// Run resumes an existing project by ID, rebuilding the plan from
// persisted tasks and demoting any in_progress task to queued (spec
// §4.10 Resume: its work was not durably acknowledged).
func (o *Orchestrator) Run(ctx context.Context, projectID string) (*project.Project, error) {
	p, err := o.Store.Load(projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}

	demoted := false
	for _, t := range p.Tasks {
		if t.Status == project.TaskInProgress {
			t.Status = project.TaskQueued
			t.AssignedAgentID = ""
			demoted = true
		}
	}
	if demoted {
		p.Version++
		if err := o.Store.Save(p); err != nil {
			return nil, fmt.Errorf("persist resume demotion: %w", err)
		}
	}
	return o.drive(ctx, p)
}

// drive advances p from its current status (planning or executing) to a
// terminal one (complete or failed), persisting after every transition.
func (o *Orchestrator) drive(ctx context.Context, p *project.Project) (*project.Project, error) {
	if p.Status == project.StatusPlanning {
		if err := o.planInto(ctx, p); err != nil {
			return p, err
		}
	}

	if p.Status != project.StatusExecuting {
		return p, nil
	}

	if err := o.executeLoop(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// planInto populates p's task set from C7 if empty, validates it with
// C8, and transitions the project to executing, complete (empty plan),
// or failed (planning error).
func (o *Orchestrator) planInto(ctx context.Context, p *project.Project) error {
	if len(p.Tasks) == 0 {
		tasks, err := o.Planner.Plan(ctx, p.Objective)
		if err != nil {
			return o.failPlanning(p, fmt.Sprintf("planning failed: %v", err))
		}
		for _, t := range tasks {
			p.Tasks[t.TaskID] = t
		}
	}

	if len(p.Tasks) == 0 {
		p.Status = project.StatusComplete
		p.Version++
		return o.Store.Save(p)
	}

	if _, err := depgraph.Analyze(p.Tasks, o.Strategy); err != nil {
		return o.failPlanning(p, err.Error())
	}

	p.Status = project.StatusExecuting
	p.Version++
	return o.Store.Save(p)
}

func (o *Orchestrator) failPlanning(p *project.Project, detail string) error {
	p.Status = project.StatusFailed
	p.Version++
	if err := o.Store.Save(p); err != nil {
		return fmt.Errorf("persist planning failure: %w", err)
	}
	o.appendEvent(p.ProjectID, "planning_error", detail)
	return nil
}

// executeLoop is the main loop: recompute the plan, take the earliest
// stage with a queued task, run its groups bounded by optimal
// concurrency, persist, repeat until no task is queued.
func (o *Orchestrator) executeLoop(ctx context.Context, p *project.Project) error {
	for {
		if anyQueued := hasQueued(p.Tasks); !anyQueued {
			break
		}

		plan, err := depgraph.Analyze(p.Tasks, o.Strategy)
		if err != nil {
			return o.failPlanning(p, err.Error())
		}

		stage, ok := earliestStageWithQueued(plan, p.Tasks)
		if !ok {
			// queued tasks exist but none are ready: every remaining queued
			// task is blocked behind a permanently failed dependency.
			break
		}

		admittedAny, successCount, err := o.runStage(ctx, p, plan, stage)
		if err != nil {
			return err
		}

		if !admittedAny {
			select {
			case <-time.After(retryAdmissionDelay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if successCount == 0 {
			p.Status = project.StatusFailed
			p.Version++
			if err := o.Store.Save(p); err != nil {
				return fmt.Errorf("persist stage-without-progress failure: %w", err)
			}
			o.appendEvent(p.ProjectID, "stage_failed_no_progress", "")
			return nil
		}
	}

	if p.AllComplete() {
		p.Status = project.StatusComplete
	} else {
		p.Status = project.StatusFailed
	}
	p.Version++
	return o.Store.Save(p)
}

// runStage executes every group of stage concurrently, bounded by
// optimal_concurrency, acquiring and releasing a C9 allocation per
// group, and persists p after each group's summary. It returns whether
// at least one group was admitted, and how many tasks reached complete.
func (o *Orchestrator) runStage(ctx context.Context, p *project.Project, plan depgraph.ExecutionPlan, stage depgraph.Stage) (admittedAny bool, successCount int, err error) {
	sequential := o.stageIsSequential(plan)

	concurrency := o.Resources.OptimalConcurrency()
	if concurrency < 1 {
		concurrency = 1
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	var saveErr error

	for _, group := range stage.Groups {
		group := group
		g.Go(func() error {
			if o.paused.Load() {
				return nil
			}

			// A sibling group in this stage may have been denied admission
			// on a prior pass while this group's tasks already completed;
			// only re-dispatch tasks still queued, never ones already
			// terminal.
			pending := queuedOnly(p.Tasks, group.TaskIDs)
			if len(pending) == 0 {
				return nil
			}

			maxWorkers := len(pending)
			if sequential {
				maxWorkers = 1
			}

			alloc := resource.Allocation{
				Tokens:           estTokensPerAgent * len(pending),
				MemoryMB:         estMemoryMBPerAgent * len(pending),
				CPUPercent:       estCPUPercentPerAgent * len(pending),
				ConcurrentAgents: len(pending),
			}
			key := fmt.Sprintf("%s/%s-%d", p.ProjectID, group.Team, taskIDsHash(pending))

			if !o.Resources.TryAcquire(key, alloc) {
				logger.WarnCF("orchestrator", "group admission denied, will retry", map[string]any{
					"project_id": p.ProjectID, "team": string(group.Team), "task_count": len(pending),
				})
				return nil
			}
			defer o.Resources.Release(key)

			mu.Lock()
			admittedAny = true
			mu.Unlock()

			lead := o.Leads.For(group.Team)
			before := completeCount(p.Tasks, pending)
			summary := lead.RunGroup(ctx, p, pending, maxWorkers, alloc.ConcurrentAgents, buildUpstreamSummaries(p, pending))
			after := completeCount(p.Tasks, pending)
			logger.DebugCF("orchestrator", "group summary", map[string]any{
				"team": string(group.Team), "success": summary.Success, "failed": summary.Failed,
			})

			mu.Lock()
			successCount += after - before
			mu.Unlock()

			p.Version++
			if serr := o.Store.Save(p); serr != nil {
				mu.Lock()
				if saveErr == nil {
					saveErr = serr
				}
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	if saveErr != nil {
		return admittedAny, successCount, fmt.Errorf("persist group summary: %w", saveErr)
	}
	return admittedAny, successCount, nil
}

// stageIsSequential resolves mode → this-stage execution style. HYBRID
// recomputes the parallelism score against the freshly-rebuilt plan
// every time a stage is picked, rather than deciding once for the whole
// project.
func (o *Orchestrator) stageIsSequential(plan depgraph.ExecutionPlan) bool {
	switch o.Mode {
	case config.ModeSequential:
		return true
	case config.ModeParallel:
		return false
	default: // hybrid
		return plan.ParallelismScore() < 1.5
	}
}

func hasQueued(tasks map[string]*project.Task) bool {
	for _, t := range tasks {
		if t.Status == project.TaskQueued {
			return true
		}
	}
	return false
}

// earliestStageWithQueued returns the first stage (ascending depth) that
// contains at least one queued, ready task.
func earliestStageWithQueued(plan depgraph.ExecutionPlan, tasks map[string]*project.Task) (depgraph.Stage, bool) {
	for _, stage := range plan.Stages {
		for _, group := range stage.Groups {
			for _, id := range group.TaskIDs {
				t, ok := tasks[id]
				if ok && t.Ready(tasks) {
					return stage, true
				}
			}
		}
	}
	return depgraph.Stage{}, false
}

// queuedOnly filters ids down to tasks still in the queued state, so a
// stage re-picked after a partial admission denial never re-dispatches
// tasks a sibling group already carried to completion or failure.
func queuedOnly(tasks map[string]*project.Task, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if t, ok := tasks[id]; ok && t.Status == project.TaskQueued {
			out = append(out, id)
		}
	}
	return out
}

func completeCount(tasks map[string]*project.Task, ids []string) int {
	n := 0
	for _, id := range ids {
		if t, ok := tasks[id]; ok && t.Status == project.TaskComplete {
			n++
		}
	}
	return n
}

// buildUpstreamSummaries gives each task in ids a short text summary of
// its already-completed dependencies, for Worker prompt context (spec
// §4.5 step 2: "optionally upstream task summaries").
func buildUpstreamSummaries(p *project.Project, ids []string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(ids))
	for _, id := range ids {
		t, ok := p.Tasks[id]
		if !ok {
			continue
		}
		deps := make(map[string]string, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			dt, ok := p.Tasks[dep]
			if !ok || dt.Status != project.TaskComplete {
				continue
			}
			deps[dep] = fmt.Sprintf("%s (result: %s)", dt.Title, dt.ResultRef)
		}
		out[id] = deps
	}
	return out
}

func taskIDsHash(ids []string) uint32 {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var h uint32 = 2166136261
	for _, id := range sorted {
		for i := 0; i < len(id); i++ {
			h ^= uint32(id[i])
			h *= 16777619
		}
	}
	return h
}

// PlanningErrorStatus reports whether a failed project's terminal cause
// was a planning error specifically (acyclicity/unknown-dependency
// rejection, or the planning CLI call itself failing) rather than an
// execution-time failure. Callers use this to choose an exit status
// distinct from an ordinary execution failure.
func PlanningErrorStatus(store *project.Store, p *project.Project) bool {
	if p.Status != project.StatusFailed {
		return false
	}
	events, err := store.ReplayEvents(p.ProjectID)
	if err != nil {
		return false
	}
	for i := len(events) - 1; i >= 0; i-- {
		switch events[i].Kind {
		case "planning_error":
			return true
		case "stage_failed_no_progress", "task_failed":
			return false
		}
	}
	return false
}

func (o *Orchestrator) appendEvent(projectID, kind, detail string) {
	ev := project.Event{Kind: kind}
	if detail != "" {
		ev.Detail = map[string]any{"message": detail}
	}
	if err := o.Store.AppendEvent(projectID, ev); err != nil {
		logger.WarnCF("orchestrator", "failed to append event", map[string]any{"error": err.Error()})
	}
}
