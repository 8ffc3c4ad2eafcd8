// Package depgraph builds a DAG over a task set, rejects cycles, and
// computes parallel-safe execution stages and per-stage, per-team
// groups.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/conductorctl/conductor/internal/errs"
	"github.com/conductorctl/conductor/internal/project"
)

// Strategy configures how a stage's tasks are split into groups.
type Strategy struct {
	Name             string
	MaxGroupSize     int
	CrossTeamStages  bool
}

var (
	Conservative = Strategy{Name: "conservative", MaxGroupSize: 2, CrossTeamStages: false}
	Balanced     = Strategy{Name: "balanced", MaxGroupSize: 4, CrossTeamStages: false}
	Aggressive   = Strategy{Name: "aggressive", MaxGroupSize: 8, CrossTeamStages: true}
)

// StrategyByName resolves a config string to a Strategy, defaulting to
// Balanced.
func StrategyByName(name string) Strategy {
	switch name {
	case "conservative":
		return Conservative
	case "aggressive":
		return Aggressive
	case "balanced", "":
		return Balanced
	default:
		return Balanced
	}
}

// Group is a subset of a stage's tasks sharing a team (unless the
// strategy allows cross-team stages) that fits in one concurrency budget.
type Group struct {
	Team    project.Team
	TaskIDs []string
}

// Stage is a set of groups whose tasks' dependencies all lie in strictly
// earlier stages.
type Stage struct {
	Groups []Group
}

// TaskCount returns the total number of tasks across every group in the
// stage.
func (s Stage) TaskCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.TaskIDs)
	}
	return n
}

// ExecutionPlan is the ordered output of Analyze.
type ExecutionPlan struct {
	Stages []Stage
}

// TaskCount is the total number of tasks across the whole plan.
func (p ExecutionPlan) TaskCount() int {
	n := 0
	for _, s := range p.Stages {
		n += s.TaskCount()
	}
	return n
}

// ParallelismScore is sum_of_task_count / number_of_stages, used by the
// Orchestrator to pick HYBRID mode's per-stage execution style against
// the 1.5 threshold.
func (p ExecutionPlan) ParallelismScore() float64 {
	if len(p.Stages) == 0 {
		return 0
	}
	return float64(p.TaskCount()) / float64(len(p.Stages))
}

// Analyze builds a DAG over tasks, rejects cycles, and partitions tasks
// into stages and groups per strategy.
func Analyze(tasks map[string]*project.Task, strategy Strategy) (ExecutionPlan, error) {
	if len(tasks) == 0 {
		return ExecutionPlan{}, nil
	}

	for id, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := tasks[dep]; !ok {
				return ExecutionPlan{}, fmt.Errorf("%w: task %q depends on unknown task %q", errs.ErrUnknownDependency, id, dep)
			}
		}
	}

	depth, err := longestPathDepth(tasks)
	if err != nil {
		return ExecutionPlan{}, err
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	byDepth := make([][]string, maxDepth+1)
	for id, d := range depth {
		byDepth[d] = append(byDepth[d], id)
	}
	for _, ids := range byDepth {
		sort.Strings(ids)
	}

	plan := ExecutionPlan{}
	for _, ids := range byDepth {
		plan.Stages = append(plan.Stages, buildStage(ids, tasks, strategy))
	}
	return plan, nil
}

// longestPathDepth computes each task's longest-path depth from any root
// (a task with no dependencies is depth 0) via Kahn's algorithm, and
// detects cycles: if not every node is ever dequeued, a cycle exists.
func longestPathDepth(tasks map[string]*project.Task) (map[string]int, error) {
	inDegree := make(map[string]int, len(tasks))
	children := make(map[string][]string, len(tasks))
	for id, t := range tasks {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range t.DependsOn {
			inDegree[id]++
			children[dep] = append(children[dep], id)
		}
	}

	depth := make(map[string]int, len(tasks))
	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
			depth[id] = 0
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		kids := append([]string(nil), children[id]...)
		sort.Strings(kids)
		for _, child := range kids {
			if depth[id]+1 > depth[child] {
				depth[child] = depth[id] + 1
			}
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if visited != len(tasks) {
		return nil, errs.ErrCycleDetected
	}
	return depth, nil
}

// buildStage partitions one depth-level's task IDs into team-scoped
// groups bounded by strategy.MaxGroupSize.
func buildStage(ids []string, tasks map[string]*project.Task, strategy Strategy) Stage {
	byTeam := make(map[project.Team][]string)
	var teamOrder []project.Team
	for _, id := range ids {
		team := tasks[id].Team
		if _, ok := byTeam[team]; !ok {
			teamOrder = append(teamOrder, team)
		}
		byTeam[team] = append(byTeam[team], id)
	}

	stage := Stage{}
	if strategy.CrossTeamStages {
		// Aggressive strategy allows one stage to mix teams within a
		// group, so chunk the whole depth-level's IDs together, ignoring
		// team boundaries, still bounded by MaxGroupSize.
		for _, chunk := range chunk(ids, strategy.MaxGroupSize) {
			stage.Groups = append(stage.Groups, Group{Team: tasks[chunk[0]].Team, TaskIDs: chunk})
		}
		return stage
	}

	for _, team := range teamOrder {
		for _, c := range chunk(byTeam[team], strategy.MaxGroupSize) {
			stage.Groups = append(stage.Groups, Group{Team: team, TaskIDs: c})
		}
	}
	return stage
}

func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
		if size == 0 {
			size = 1
		}
	}
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}
