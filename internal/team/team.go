// Package team implements the Team Lead: bounded-concurrency fan-out of
// a group of same-team tasks across Workers.
package team

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/conductorctl/conductor/internal/logger"
	"github.com/conductorctl/conductor/internal/project"
)

// atomicValidationKeywords trigger specialty-matched QA dispatch.
var atomicValidationKeywords = []string{"validate", "check", "verify", "test", "audit", "html", "css", "javascript", "performance"}

// Runner is the subset of worker.Worker the Lead depends on, so tests can
// supply a fake without wiring a real CLI Invoker and Store.
type Runner interface {
	Run(ctx context.Context, p *project.Project, t *project.Task, upstreamSummaries map[string]string) error
}

// WorkerFactory produces a fresh Runner for one dispatched task. Workers
// are cheap, stateless dispatchers (their identity is just an agent ID),
// so the Lead creates one per task rather than pooling them.
type WorkerFactory func(agentID string, specialty string) Runner

// Lead fans a group of tasks belonging to one team out across a bounded
// pool of Workers.
type Lead struct {
	Team    project.Team
	NewWorker WorkerFactory
}

// New creates a Lead for the given team.
func New(team project.Team, factory WorkerFactory) *Lead {
	return &Lead{Team: team, NewWorker: factory}
}

// Summary is run_group's result: per-group outcome counts. One Worker's
// failure never cancels its peers (spec: failure isolation); the Lead
// only aggregates.
type Summary struct {
	Success int
	Failed  int
}

// RunGroup dispatches every task in taskIDs against a worker pool of size
// min(len(taskIDs), maxWorkers, resourceAllowance), and returns once every
// dispatched task has reached a terminal status. Ordering within the
// group is not observable by design.
func (l *Lead) RunGroup(ctx context.Context, p *project.Project, taskIDs []string, maxWorkers, resourceAllowance int, upstreamSummaries map[string]map[string]string) Summary {
	poolSize := maxWorkers
	if len(taskIDs) < poolSize {
		poolSize = len(taskIDs)
	}
	if resourceAllowance < poolSize {
		poolSize = resourceAllowance
	}
	if poolSize < 1 {
		poolSize = 1
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)

	var mu syncCounter
	for i, taskID := range taskIDs {
		taskID := taskID
		agentID := agentIDFor(l.Team, i)
		g.Go(func() error {
			t, ok := p.Tasks[taskID]
			if !ok || t.Status != project.TaskQueued {
				return nil
			}
			specialty := specialtyFor(t)
			if t.Specialty == "" {
				t.Specialty = specialty
			}
			w := l.NewWorker(agentID, specialty)

			err := w.Run(ctx, p, t, upstreamSummaries[taskID])
			if err != nil {
				logger.WarnCF("team", "worker run returned an unexpected error", map[string]any{
					"task_id": taskID, "error": err.Error(),
				})
				mu.incFailed()
				return nil // isolate: never abort sibling workers
			}
			if t.Status == project.TaskComplete {
				mu.incSuccess()
			} else {
				mu.incFailed()
			}
			return nil
		})
	}

	_ = g.Wait() // errors are isolated per-task above; Wait never returns one
	return mu.summary()
}

func agentIDFor(team project.Team, index int) string {
	return string(team) + "-worker-" + strconv.Itoa(index)
}

// specialtyFor applies the delegation rule: a description matching
// atomic-validation keywords routes to a QA specialty tag (RunGroup
// records it on the task, which puts it under the Worker's hard atomic
// time bound); otherwise the task's own specialty (or none) is used.
func specialtyFor(t *project.Task) string {
	if t.Specialty != "" {
		return t.Specialty
	}
	lower := strings.ToLower(t.Title + " " + t.Description)
	for _, kw := range atomicValidationKeywords {
		if strings.Contains(lower, kw) {
			return "qa-" + kw
		}
	}
	return ""
}

// syncCounter accumulates Summary counts across concurrent goroutines.
type syncCounter struct {
	mu      sync.Mutex
	success int
	failed  int
}

func (c *syncCounter) incSuccess() {
	c.mu.Lock()
	c.success++
	c.mu.Unlock()
}
func (c *syncCounter) incFailed() {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}
func (c *syncCounter) summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{Success: c.success, Failed: c.failed}
}
