package depgraph

import (
	"errors"
	"testing"

	"github.com/conductorctl/conductor/internal/errs"
	"github.com/conductorctl/conductor/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTask(id string, team project.Team, deps ...string) *project.Task {
	return &project.Task{TaskID: id, Team: team, DependsOn: deps, Status: project.TaskQueued}
}

func TestAnalyzeEmptyTaskList(t *testing.T) {
	plan, err := Analyze(map[string]*project.Task{}, Balanced)
	require.NoError(t, err)
	assert.Empty(t, plan.Stages)
}

func TestAnalyzeIndependentTasksOneStage(t *testing.T) {
	tasks := map[string]*project.Task{
		"t1": mkTask("t1", project.TeamFrontend),
		"t2": mkTask("t2", project.TeamFrontend),
		"t3": mkTask("t3", project.TeamBackend),
	}
	plan, err := Analyze(tasks, Balanced)
	require.NoError(t, err)
	require.Len(t, plan.Stages, 1)
	assert.GreaterOrEqual(t, len(plan.Stages[0].Groups), 2) // team partition
}

func TestAnalyzeChainOfNTasksIsNStages(t *testing.T) {
	tasks := map[string]*project.Task{
		"a": mkTask("a", project.TeamGeneral),
		"b": mkTask("b", project.TeamGeneral, "a"),
		"c": mkTask("c", project.TeamGeneral, "b"),
	}
	for _, strategy := range []Strategy{Conservative, Balanced, Aggressive} {
		plan, err := Analyze(tasks, strategy)
		require.NoError(t, err)
		require.Len(t, plan.Stages, 3)
		for _, s := range plan.Stages {
			require.Len(t, s.Groups, 1)
			assert.Len(t, s.Groups[0].TaskIDs, 1)
		}
	}
}

func TestAnalyzeDetectsCycle(t *testing.T) {
	tasks := map[string]*project.Task{
		"a": mkTask("a", project.TeamGeneral, "b"),
		"b": mkTask("b", project.TeamGeneral, "a"),
	}
	_, err := Analyze(tasks, Balanced)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCycleDetected))
}

func TestAnalyzeDetectsUnknownDependency(t *testing.T) {
	tasks := map[string]*project.Task{
		"a": mkTask("a", project.TeamGeneral, "ghost"),
	}
	_, err := Analyze(tasks, Balanced)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnknownDependency))
}

func TestAnalyzeDependencyNeverInLaterOrSameStage(t *testing.T) {
	tasks := map[string]*project.Task{
		"a": mkTask("a", project.TeamGeneral),
		"b": mkTask("b", project.TeamGeneral, "a"),
		"c": mkTask("c", project.TeamGeneral, "a", "b"),
	}
	plan, err := Analyze(tasks, Balanced)
	require.NoError(t, err)

	stageOf := make(map[string]int)
	for i, s := range plan.Stages {
		for _, g := range s.Groups {
			for _, id := range g.TaskIDs {
				stageOf[id] = i
			}
		}
	}
	assert.Less(t, stageOf["a"], stageOf["b"])
	assert.Less(t, stageOf["b"], stageOf["c"])
}

func TestGroupSizeBoundedByStrategy(t *testing.T) {
	tasks := map[string]*project.Task{}
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		tasks[id] = mkTask(id, project.TeamFrontend)
	}
	plan, err := Analyze(tasks, Conservative)
	require.NoError(t, err)
	require.Len(t, plan.Stages, 1)
	for _, g := range plan.Stages[0].Groups {
		assert.LessOrEqual(t, len(g.TaskIDs), Conservative.MaxGroupSize)
	}
}

func TestParallelismScore(t *testing.T) {
	tasks := map[string]*project.Task{
		"a": mkTask("a", project.TeamGeneral),
		"b": mkTask("b", project.TeamGeneral),
		"c": mkTask("c", project.TeamGeneral),
	}
	plan, err := Analyze(tasks, Balanced)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, plan.ParallelismScore(), 0.001)
}

func TestStrategyByNameDefaultsToBalanced(t *testing.T) {
	assert.Equal(t, Balanced, StrategyByName(""))
	assert.Equal(t, Balanced, StrategyByName("unknown"))
	assert.Equal(t, Conservative, StrategyByName("conservative"))
}
