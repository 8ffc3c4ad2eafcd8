package worker

import (
	"context"
	"testing"
	"time"

	"github.com/conductorctl/conductor/internal/cliexec"
	"github.com/conductorctl/conductor/internal/config"
	"github.com/conductorctl/conductor/internal/errs"
	"github.com/conductorctl/conductor/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	results []cliexec.Result
	errs    []error
	calls   int
}

func (f *fakeInvoker) Invoke(ctx context.Context, command string, args []string, stdinPrompt string, timeout time.Duration) (cliexec.Result, error) {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i], f.errs[i]
}

func newStore(t *testing.T) *project.Store {
	t.Helper()
	s, err := project.NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func providers() map[string]config.Provider {
	return map[string]config.Provider{
		"general": {Cmd: []string{"fake-cli"}},
	}
}

func TestWorkerRunSucceedsOnFirstAttempt(t *testing.T) {
	store := newStore(t)
	p, err := store.Create("objective", nil)
	require.NoError(t, err)

	task := &project.Task{TaskID: "t1", Title: "Return OK", Team: project.TeamGeneral, Status: project.TaskQueued}
	p.Tasks["t1"] = task

	inv := &fakeInvoker{results: []cliexec.Result{{Stdout: "OK"}}, errs: []error{nil}}
	w := New("agent-1", inv, store, providers(), 3, time.Second)

	require.NoError(t, w.Run(context.Background(), p, task, nil))
	assert.Equal(t, project.TaskComplete, task.Status)
	assert.Equal(t, 1, p.Usage.Calls)
}

func TestWorkerRetriesTransientTimeoutThenSucceeds(t *testing.T) {
	store := newStore(t)
	p, err := store.Create("objective", nil)
	require.NoError(t, err)

	task := &project.Task{TaskID: "t1", Title: "flaky", Team: project.TeamGeneral, Status: project.TaskQueued}
	p.Tasks["t1"] = task

	inv := &fakeInvoker{
		results: []cliexec.Result{{}, {Stdout: "done"}},
		errs:    []error{errs.ErrTimeout, nil},
	}
	w := New("agent-1", inv, store, providers(), 3, 10*time.Millisecond)

	require.NoError(t, w.Run(context.Background(), p, task, nil))
	assert.Equal(t, project.TaskComplete, task.Status)
	assert.Equal(t, 2, task.Attempts)
}

func TestWorkerFailsPermanentlyAfterBudgetExhausted(t *testing.T) {
	store := newStore(t)
	p, err := store.Create("objective", nil)
	require.NoError(t, err)

	task := &project.Task{TaskID: "t1", Title: "always fails", Team: project.TeamGeneral, Status: project.TaskQueued}
	p.Tasks["t1"] = task

	inv := &fakeInvoker{
		results: []cliexec.Result{{}, {}, {}},
		errs:    []error{errs.ErrTimeout, errs.ErrTimeout, errs.ErrTimeout},
	}
	w := New("agent-1", inv, store, providers(), 3, 10*time.Millisecond)

	require.NoError(t, w.Run(context.Background(), p, task, nil))
	assert.Equal(t, project.TaskFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.Equal(t, string(errs.KindTimeout), task.Error.Kind)
}

func TestWorkerDoesNotRetryCLINotFound(t *testing.T) {
	store := newStore(t)
	p, err := store.Create("objective", nil)
	require.NoError(t, err)

	task := &project.Task{TaskID: "t1", Title: "bad provider", Team: project.TeamGeneral, Status: project.TaskQueued}
	p.Tasks["t1"] = task

	inv := &fakeInvoker{results: []cliexec.Result{{}}, errs: []error{errs.ErrCLINotFound}}
	w := New("agent-1", inv, store, providers(), 3, 10*time.Millisecond)

	require.NoError(t, w.Run(context.Background(), p, task, nil))
	assert.Equal(t, project.TaskFailed, task.Status)
	assert.Equal(t, 0, task.Attempts)
}

func TestWorkerQAAtomicDeadline(t *testing.T) {
	store := newStore(t)
	p, err := store.Create("objective", nil)
	require.NoError(t, err)

	task := &project.Task{TaskID: "t1", Title: "validate html", Team: project.TeamQA, Status: project.TaskQueued}
	p.Tasks["t1"] = task

	inv := &fakeInvoker{results: []cliexec.Result{{}}, errs: []error{errs.ErrTimeout}}
	w := New("agent-1", inv, store, providers(), 3, 10*time.Millisecond)

	require.NoError(t, w.Run(context.Background(), p, task, nil))
	assert.Equal(t, project.TaskFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.Equal(t, string(errs.KindAtomicDeadlineExceeded), task.Error.Kind)
}
