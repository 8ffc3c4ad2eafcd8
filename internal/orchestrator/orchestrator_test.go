package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/conductorctl/conductor/internal/config"
	"github.com/conductorctl/conductor/internal/depgraph"
	"github.com/conductorctl/conductor/internal/project"
	"github.com/conductorctl/conductor/internal/resource"
	"github.com/conductorctl/conductor/internal/team"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlanner returns a fixed task list, or an error, without ever
// calling a real CLI.
type fakePlanner struct {
	tasks []*project.Task
	err   error
}

func (f *fakePlanner) Plan(ctx context.Context, objective string) ([]*project.Task, error) {
	return f.tasks, f.err
}

// fakeRunner completes every task it's given immediately.
type fakeRunner struct {
	fail bool
}

func (f fakeRunner) Run(ctx context.Context, p *project.Project, t *project.Task, upstream map[string]string) error {
	if f.fail {
		t.Status = project.TaskFailed
		t.Error = &project.TaskError{Kind: "cli_failed", Message: "simulated"}
		return nil
	}
	t.Status = project.TaskComplete
	t.ResultRef = "artifacts/" + t.TaskID
	return nil
}

type fakeLeads struct {
	fail bool
}

func (f *fakeLeads) For(t project.Team) *team.Lead {
	return team.New(t, func(agentID, specialty string) team.Runner {
		return fakeRunner{fail: f.fail}
	})
}

func testOrchestrator(t *testing.T, pl Planner, leadsFail bool) (*Orchestrator, *project.Store) {
	t.Helper()
	store, err := project.NewStore(t.TempDir())
	require.NoError(t, err)
	res := resource.NewManager(resource.Limits{TokensPerMinute: 1_000_000, MemoryMB: 1_000_000, CPUPercent: 1_000_000, ConcurrentAgents: 1000})
	o := &Orchestrator{
		Store:     store,
		Planner:   pl,
		Resources: res,
		Leads:     &fakeLeads{fail: leadsFail},
		Strategy:  depgraph.Balanced,
		Mode:      config.ModeHybrid,
	}
	return o, store
}

func TestOrchestratorEmptyPlanCompletesImmediately(t *testing.T) {
	o, _ := testOrchestrator(t, &fakePlanner{tasks: nil}, false)
	p, err := o.Start(context.Background(), "do nothing", nil)
	require.NoError(t, err)
	assert.Equal(t, project.StatusComplete, p.Status)
}

func TestOrchestratorSingleTaskCompletes(t *testing.T) {
	tasks := []*project.Task{
		{TaskID: "t1", Title: "Return OK", Team: project.TeamGeneral, Status: project.TaskQueued},
	}
	o, _ := testOrchestrator(t, &fakePlanner{tasks: tasks}, false)
	p, err := o.Start(context.Background(), "return OK", nil)
	require.NoError(t, err)
	assert.Equal(t, project.StatusComplete, p.Status)
	assert.True(t, p.AllComplete())
}

func TestOrchestratorCycleRejection(t *testing.T) {
	tasks := []*project.Task{
		{TaskID: "a", Title: "A", Team: project.TeamGeneral, Status: project.TaskQueued, DependsOn: []string{"b"}},
		{TaskID: "b", Title: "B", Team: project.TeamGeneral, Status: project.TaskQueued, DependsOn: []string{"a"}},
	}
	o, store := testOrchestrator(t, &fakePlanner{tasks: tasks}, false)
	p, err := o.Start(context.Background(), "cyclic", nil)
	require.NoError(t, err)
	assert.Equal(t, project.StatusFailed, p.Status)
	assert.True(t, PlanningErrorStatus(store, p))
}

func TestOrchestratorParallelStageAllTeamsComplete(t *testing.T) {
	tasks := []*project.Task{
		{TaskID: "t1", Title: "Frontend A", Team: project.TeamFrontend, Status: project.TaskQueued},
		{TaskID: "t2", Title: "Frontend B", Team: project.TeamFrontend, Status: project.TaskQueued},
		{TaskID: "t3", Title: "Backend A", Team: project.TeamBackend, Status: project.TaskQueued},
	}
	o, _ := testOrchestrator(t, &fakePlanner{tasks: tasks}, false)
	p, err := o.Start(context.Background(), "parallel", nil)
	require.NoError(t, err)
	assert.Equal(t, project.StatusComplete, p.Status)
}

func TestOrchestratorStageWithoutProgressFails(t *testing.T) {
	tasks := []*project.Task{
		{TaskID: "t1", Title: "Always fails", Team: project.TeamGeneral, Status: project.TaskQueued},
	}
	o, _ := testOrchestrator(t, &fakePlanner{tasks: tasks}, true)
	p, err := o.Start(context.Background(), "fails", nil)
	require.NoError(t, err)
	assert.Equal(t, project.StatusFailed, p.Status)
}

func TestOrchestratorResumeDemotesInProgress(t *testing.T) {
	o, store := testOrchestrator(t, &fakePlanner{}, false)
	p, err := store.Create("resume test", nil)
	require.NoError(t, err)
	p.Status = project.StatusExecuting
	p.Tasks["t1"] = &project.Task{TaskID: "t1", Title: "stuck", Team: project.TeamGeneral, Status: project.TaskInProgress, AssignedAgentID: "agent-x"}
	p.Version++
	require.NoError(t, store.Save(p))

	resumed, err := o.Run(context.Background(), p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, project.StatusComplete, resumed.Status)
}

func TestOrchestratorRespectsContextCancellation(t *testing.T) {
	tasks := []*project.Task{
		{TaskID: "t1", Title: "slow", Team: project.TeamGeneral, Status: project.TaskQueued},
	}
	res := resource.NewManager(resource.Limits{}) // zero limits: every admission is denied
	store, err := project.NewStore(t.TempDir())
	require.NoError(t, err)
	o := &Orchestrator{Store: store, Planner: &fakePlanner{tasks: tasks}, Resources: res, Leads: &fakeLeads{}, Strategy: depgraph.Balanced, Mode: config.ModeHybrid}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = o.Start(ctx, "perpetually denied", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
