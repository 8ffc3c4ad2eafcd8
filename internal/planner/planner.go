// Package planner implements the Project Manager: a single planning
// pass, before any execution stage, that decomposes an objective into an
// atomic task list with team tags and dependency edges.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conductorctl/conductor/internal/cliexec"
	"github.com/conductorctl/conductor/internal/config"
	"github.com/conductorctl/conductor/internal/errs"
	"github.com/conductorctl/conductor/internal/logger"
	"github.com/conductorctl/conductor/internal/project"
)

// Invoker is the subset of cliexec.Invoker the Planner depends on.
type Invoker interface {
	Invoke(ctx context.Context, command string, args []string, stdinPrompt string, timeout time.Duration) (cliexec.Result, error)
}

// Planner runs the objective-decomposition pass. The Manager is itself a
// Worker (its "task" is planning): it goes through the same CLI
// invocation plus retry-under-budget machinery as any other atomic task.
type Planner struct {
	Invoker     Invoker
	Provider    config.Provider
	MaxAttempts int
	BaseTimeout time.Duration
}

// New creates a Planner.
func New(inv Invoker, provider config.Provider, maxAttempts int, baseTimeout time.Duration) *Planner {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Planner{Invoker: inv, Provider: provider, MaxAttempts: maxAttempts, BaseTimeout: baseTimeout}
}

// draftTask is the wire shape the planning CLI emits inside its JSON
// markers.
type draftTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Team        string   `json:"team"`
	Specialty   string   `json:"specialty,omitempty"`
	DependsOn   []string `json:"depends_on"`
}

// Plan invokes the configured planning provider with the objective,
// retrying transient CLI failures under MaxAttempts, parses the JSON task
// list from between Provider.JSONMarkers (or the full stdout if no
// markers are configured), and assigns stable task IDs.
func (pl *Planner) Plan(ctx context.Context, objective string) ([]*project.Task, error) {
	prompt := buildPlanningPrompt(objective)

	var lastErr error
	for attempt := 0; attempt < pl.MaxAttempts; attempt++ {
		score := cliexec.ComplexityScore(prompt)
		timeout := cliexec.AdaptiveTimeout(pl.BaseTimeout, score)

		cmd := pl.Provider.Cmd[0]
		args := append(append([]string{}, pl.Provider.Cmd[1:]...), pl.Provider.ExtraArgs...)

		res, err := pl.Invoker.Invoke(ctx, cmd, args, prompt, timeout)
		if err == nil {
			drafts, perr := parseDraftTasks(res.Stdout, pl.Provider.JSONMarkers)
			if perr != nil {
				return nil, fmt.Errorf("%w: %v", errs.ErrUnknownDependency, perr)
			}
			return assignTaskIDs(drafts), nil
		}

		lastErr = err
		kind := errs.KindOf(err)
		if !kind.Retryable() {
			return nil, fmt.Errorf("planning failed: %w", err)
		}
		logger.WarnCF("planner", "planning attempt failed, retrying", map[string]any{"attempt": attempt + 1, "error": err.Error()})
	}
	return nil, fmt.Errorf("planning exhausted retry budget: %w", lastErr)
}

func buildPlanningPrompt(objective string) string {
	var b strings.Builder
	b.WriteString("Decompose the following objective into an atomic task list.\n")
	b.WriteString("Each task must be executable by one worker within its time bound.\n")
	b.WriteString("Tag each task with a team in {general, frontend, backend, qa}.\n")
	b.WriteString("Express validation work per-concern (HTML structure, CSS, JS behavior, performance), not \"test everything\".\n\n")
	fmt.Fprintf(&b, "Objective: %s\n", objective)
	return b.String()
}

func parseDraftTasks(stdout string, markers []string) ([]draftTask, error) {
	payload := stdout
	if len(markers) == 2 {
		start := strings.Index(stdout, markers[0])
		end := strings.Index(stdout, markers[1])
		if start >= 0 && end > start {
			payload = stdout[start+len(markers[0]) : end]
		}
	}

	var drafts []draftTask
	if err := json.Unmarshal([]byte(payload), &drafts); err != nil {
		return nil, fmt.Errorf("parse planning output as JSON task list: %w", err)
	}
	return drafts, nil
}

// assignTaskIDs turns each draft into a Task with a stable, slug-derived
// task_id and queued status; depends_on references are rewritten to the
// same IDs so cross-references resolve.
func assignTaskIDs(drafts []draftTask) []*project.Task {
	idByIndex := make([]string, len(drafts))
	idByTitle := make(map[string]string, len(drafts))
	for i, d := range drafts {
		id := fmt.Sprintf("t%d_%s", i+1, slugify(d.Title))
		idByIndex[i] = id
		idByTitle[d.Title] = id
	}

	tasks := make([]*project.Task, 0, len(drafts))
	for i, d := range drafts {
		deps := make([]string, 0, len(d.DependsOn))
		for _, dep := range d.DependsOn {
			if id, ok := idByTitle[dep]; ok {
				deps = append(deps, id)
			} else {
				deps = append(deps, dep) // may be an already-resolved ID
			}
		}
		tasks = append(tasks, &project.Task{
			TaskID:      idByIndex[i],
			Title:       d.Title,
			Description: d.Description,
			Team:        project.Team(strings.ToLower(d.Team)),
			Specialty:   d.Specialty,
			DependsOn:   deps,
			Status:      project.TaskQueued,
		})
	}
	return tasks
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			if b.Len() > 0 && b.String()[b.Len()-1] != '_' {
				b.WriteByte('_')
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "task"
	}
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}
