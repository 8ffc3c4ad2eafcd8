package project

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Create("build a thing", map[string]any{"strategy": "balanced"})
	require.NoError(t, err)
	assert.Equal(t, StatusPlanning, p.Status)

	loaded, err := s.Load(p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, p.ProjectID, loaded.ProjectID)
	assert.Equal(t, p.Objective, loaded.Objective)
}

func TestSaveIsAtomicAcrossVersions(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("objective", nil)
	require.NoError(t, err)

	p.Tasks["t1"] = &Task{TaskID: "t1", Status: TaskQueued}
	p.Version = 2
	require.NoError(t, s.Save(p))

	loaded, err := s.Load(p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	assert.Contains(t, loaded.Tasks, "t1")
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("objective", nil)
	require.NoError(t, err)

	p.Version = 5
	require.NoError(t, s.Save(p))

	stale := &Project{ProjectID: p.ProjectID, Version: 3, Tasks: map[string]*Task{}}
	err = s.Save(stale)
	assert.Error(t, err)
}

func TestAppendEventAndReplay(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("objective", nil)
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(p.ProjectID, Event{Kind: "task_started", TaskID: "t1"}))
	require.NoError(t, s.AppendEvent(p.ProjectID, Event{Kind: "task_completed", TaskID: "t1"}))

	events, err := s.ReplayEvents(p.ProjectID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "task_started", events[0].Kind)
	assert.Equal(t, "task_completed", events[1].Kind)
}

func TestSnapshotAndRestore(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("objective", nil)
	require.NoError(t, err)

	backupID, err := s.Snapshot(p.ProjectID)
	require.NoError(t, err)

	p.Status = StatusExecuting
	p.Version = 2
	require.NoError(t, s.Save(p))

	require.NoError(t, s.Restore(p.ProjectID, backupID))

	loaded, err := s.Load(p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, StatusPlanning, loaded.Status)
}

func TestLoadFallsBackToBackupOnCorruption(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("objective", nil)
	require.NoError(t, err)

	p.Version = 2
	require.NoError(t, s.Save(p))

	corruptPath := s.statePath(p.ProjectID)
	require.NoError(t, os.WriteFile(corruptPath, []byte("{not valid json"), 0o644))

	loaded, err := s.Load(p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, p.ProjectID, loaded.ProjectID)

	events, err := s.ReplayEvents(p.ProjectID)
	require.NoError(t, err)
	found := false
	for _, ev := range events {
		if ev.Kind == "restored_from_backup" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTaskReady(t *testing.T) {
	all := map[string]*Task{
		"a": {TaskID: "a", Status: TaskComplete},
		"b": {TaskID: "b", Status: TaskQueued, DependsOn: []string{"a"}},
		"c": {TaskID: "c", Status: TaskQueued, DependsOn: []string{"b"}},
	}
	assert.True(t, all["b"].Ready(all))
	assert.False(t, all["c"].Ready(all))
}

func TestProjectAllComplete(t *testing.T) {
	p := &Project{Tasks: map[string]*Task{
		"a": {Status: TaskComplete},
		"b": {Status: TaskComplete},
	}}
	assert.True(t, p.AllComplete())

	p.Tasks["c"] = &Task{Status: TaskQueued}
	assert.False(t, p.AllComplete())
}
