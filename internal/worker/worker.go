// Package worker implements execution of exactly one atomic task, from
// prompt construction through the CLI invoker and artifact extractor to
// a persisted status transition.
package worker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/conductorctl/conductor/internal/artifact"
	"github.com/conductorctl/conductor/internal/cliexec"
	"github.com/conductorctl/conductor/internal/config"
	"github.com/conductorctl/conductor/internal/errs"
	"github.com/conductorctl/conductor/internal/logger"
	"github.com/conductorctl/conductor/internal/project"
)

// qaHardCeiling is the 180s atomic-task time bound QA-tagged workers
// cannot exceed regardless of adaptive timeout scaling.
const qaHardCeiling = 180 * time.Second

// Invoker is the subset of cliexec.Invoker the Worker depends on, so
// tests can supply a fake CLI without spawning real subprocesses.
type Invoker interface {
	Invoke(ctx context.Context, command string, args []string, stdinPrompt string, timeout time.Duration) (cliexec.Result, error)
}

// Worker executes one task end to end.
type Worker struct {
	ID        string
	Invoker   Invoker
	Store     *project.Store
	Providers map[string]config.Provider
	MaxAttempts int
	BaseTimeout time.Duration
}

// New creates a Worker with the given identity and dependencies.
func New(id string, inv Invoker, store *project.Store, providers map[string]config.Provider, maxAttempts int, baseTimeout time.Duration) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{ID: id, Invoker: inv, Store: store, Providers: providers, MaxAttempts: maxAttempts, BaseTimeout: baseTimeout}
}

// isQA reports whether a task's team or specialty marks it as a
// validation task subject to the hard 180s ceiling.
func isQA(t *project.Task) bool {
	return t.Team == project.TeamQA || strings.HasPrefix(strings.ToLower(t.Specialty), "qa")
}

// Run executes task t within project p, retrying transient failures under
// the Worker's retry budget, and persists every status transition via
// Store. upstreamSummaries carries short text summaries of the task's
// already-completed dependencies, for prompt context.
func (w *Worker) Run(ctx context.Context, p *project.Project, t *project.Task, upstreamSummaries map[string]string) error {
	now := time.Now().UTC()
	t.Status = project.TaskInProgress
	t.AssignedAgentID = w.ID
	t.StartedAt = &now
	p.Version++
	if err := w.Store.Save(p); err != nil {
		return fmt.Errorf("persist in_progress transition: %w", err)
	}

	provider, ok := w.Providers[string(t.Team)]
	if !ok {
		provider, ok = w.Providers["general"]
	}
	if !ok {
		return w.fail(p, t, errs.KindCLINotFound, fmt.Sprintf("no provider configured for team %q", t.Team))
	}

	prompt := BuildPrompt(t, upstreamSummaries)
	qa := isQA(t)

	var lastErr error
	for {
		score := cliexec.ComplexityScore(prompt) + (t.Attempts)
		if score > 10 {
			score = 10
		}
		timeout := cliexec.AdaptiveTimeout(w.BaseTimeout, score)
		if qa && timeout > qaHardCeiling {
			timeout = qaHardCeiling
		}

		// Cmd[0] is the executable; the rest of Cmd plus ExtraArgs form
		// its argv.
		cmd := provider.Cmd[0]
		args := make([]string, 0, len(provider.Cmd)-1+len(provider.ExtraArgs))
		args = append(args, provider.Cmd[1:]...)
		args = append(args, provider.ExtraArgs...)

		res, err := w.Invoker.Invoke(ctx, cmd, args, prompt, timeout)

		if err == nil {
			t.Attempts++
			return w.succeed(p, t, res)
		}
		lastErr = err

		kind := errs.KindOf(err)

		if qa && kind == errs.KindTimeout {
			return w.fail(p, t, errs.KindAtomicDeadlineExceeded, "QA task exceeded the 180s atomic deadline")
		}
		if !kind.Retryable() {
			return w.fail(p, t, kind, err.Error())
		}

		t.Attempts++
		w.appendEvent(p.ProjectID, t.TaskID, t.Attempts, string(kind), err.Error())

		if t.Attempts >= w.MaxAttempts {
			return w.fail(p, t, kind, fmt.Sprintf("exhausted retry budget after %d attempts: %v", t.Attempts, lastErr))
		}

		t.Status = project.TaskQueued
		p.Version++
		if serr := w.Store.Save(p); serr != nil {
			return fmt.Errorf("persist retry transition: %w", serr)
		}

		if !sleepWithJitter(ctx, t.Attempts) {
			return ctx.Err()
		}

		t.Status = project.TaskInProgress
		p.Version++
		if serr := w.Store.Save(p); serr != nil {
			return fmt.Errorf("persist in_progress transition: %w", serr)
		}
	}
}

func (w *Worker) succeed(p *project.Project, t *project.Task, res cliexec.Result) error {
	artifactsDir := w.Store.ArtifactsDir(p.ProjectID, t.TaskID)
	deliverablesDir := w.Store.DeliverablesDir(p.ProjectID)

	ex := artifact.Extract(t.Title, res.Stdout)
	ref, err := artifact.Persist(artifactsDir, deliverablesDir, ex)
	if err != nil {
		return fmt.Errorf("persist artifacts: %w", err)
	}

	now := time.Now().UTC()
	t.Status = project.TaskComplete
	t.EndedAt = &now
	t.ResultRef = ref
	t.Error = nil

	p.Usage.Calls++
	agentUsage := p.Usage.PerAgent[w.ID]
	agentUsage.Calls++
	p.Usage.PerAgent[w.ID] = agentUsage

	p.Version++
	if err := w.Store.Save(p); err != nil {
		return fmt.Errorf("persist complete transition: %w", err)
	}
	w.appendEvent(p.ProjectID, t.TaskID, t.Attempts, "task_completed", "")
	return nil
}

func (w *Worker) fail(p *project.Project, t *project.Task, kind errs.Kind, message string) error {
	now := time.Now().UTC()
	t.Status = project.TaskFailed
	t.EndedAt = &now
	t.Error = &project.TaskError{Kind: string(kind), Message: message}

	p.Version++
	if err := w.Store.Save(p); err != nil {
		return fmt.Errorf("persist failed transition: %w", err)
	}
	w.appendEvent(p.ProjectID, t.TaskID, t.Attempts, "task_failed", message)
	return nil
}

func (w *Worker) appendEvent(projectID, taskID string, attempt int, kind, detail string) {
	ev := project.Event{
		Kind:    kind,
		TaskID:  taskID,
		Attempt: attempt,
	}
	if detail != "" {
		ev.Detail = map[string]any{"message": detail}
	}
	if err := w.Store.AppendEvent(projectID, ev); err != nil {
		logger.WarnCF("worker", "failed to append event", map[string]any{"error": err.Error()})
	}
}

// sleepWithJitter waits an exponential backoff with jitter before the next
// attempt, returning false if ctx is cancelled first.
func sleepWithJitter(ctx context.Context, attempt int) bool {
	base := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
	if base > 10*time.Second {
		base = 10 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	select {
	case <-time.After(base + jitter):
		return true
	case <-ctx.Done():
		return false
	}
}

// BuildPrompt assembles a role-specific prompt from a task's fields and
// its upstream dependency summaries. Concrete textual templates for
// individual specialist roles are left to the provider's own system
// prompt; this is the generic skeleton every specialty prompt is built
// from.
func BuildPrompt(t *project.Task, upstreamSummaries map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	fmt.Fprintf(&b, "Team: %s\n", t.Team)
	if t.Specialty != "" {
		fmt.Fprintf(&b, "Specialty: %s\n", t.Specialty)
	}
	fmt.Fprintf(&b, "\n%s\n", t.Description)

	if len(upstreamSummaries) > 0 {
		b.WriteString("\nContext from completed dependencies:\n")
		for id, summary := range upstreamSummaries {
			fmt.Fprintf(&b, "- %s: %s\n", id, summary)
		}
	}
	return b.String()
}
