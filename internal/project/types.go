// Package project holds the Project/Task/Artifact data model and the
// crash-safe on-disk State Store.
package project

import "time"

// Status is a Project's lifecycle state.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// Team is the coarse functional tag a Task is assigned to.
type Team string

const (
	TeamGeneral  Team = "general"
	TeamFrontend Team = "frontend"
	TeamBackend  Team = "backend"
	TeamQA       Team = "qa"
)

// TaskStatus is a Task's lifecycle state.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskInProgress TaskStatus = "in_progress"
	TaskComplete   TaskStatus = "complete"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// ArtifactKind distinguishes a task's verbatim CLI output from an
// extracted deliverable file.
type ArtifactKind string

const (
	KindRawOutput   ArtifactKind = "raw_output"
	KindDeliverable ArtifactKind = "deliverable"
)

// TaskError is the structured failure record attached to a permanently
// failed task, classified by a Kind string so it survives JSON.
type TaskError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Task is one node of the project's dependency graph.
type Task struct {
	TaskID          string     `json:"task_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Team            Team       `json:"team"`
	Specialty       string     `json:"specialty,omitempty"`
	DependsOn       []string   `json:"depends_on"`
	Status          TaskStatus `json:"status"`
	Attempts        int        `json:"attempts"`
	AssignedAgentID string     `json:"assigned_agent_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ResultRef       string     `json:"result_ref,omitempty"`
	Error           *TaskError `json:"error,omitempty"`
}

// Ready reports whether t can be dispatched: queued, and every dependency
// already complete in the given task set.
func (t *Task) Ready(all map[string]*Task) bool {
	if t.Status != TaskQueued {
		return false
	}
	for _, dep := range t.DependsOn {
		d, ok := all[dep]
		if !ok || d.Status != TaskComplete {
			return false
		}
	}
	return true
}

// AgentUsage is the per-agent token/call counter within Usage.
type AgentUsage struct {
	Tokens int `json:"tokens"`
	Calls  int `json:"calls"`
}

// Usage aggregates token/call counters across the whole project.
type Usage struct {
	Tokens    int                   `json:"tokens"`
	Calls     int                   `json:"calls"`
	PerAgent  map[string]AgentUsage `json:"per_agent"`
}

// Event is one append-only entry in a project's events.log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	TaskID    string         `json:"task_id,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Project is the full persisted unit of work.
type Project struct {
	Version        int            `json:"version"`
	ProjectID      string         `json:"project_id"`
	Objective      string         `json:"objective"`
	Status         Status         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Tasks          map[string]*Task `json:"tasks"`
	Usage          Usage          `json:"usage"`
	ConfigSnapshot map[string]any `json:"config_snapshot,omitempty"`
}

// AllComplete reports whether every task in the project is complete, the
// condition that must hold exactly when Status == StatusComplete.
func (p *Project) AllComplete() bool {
	for _, t := range p.Tasks {
		if t.Status != TaskComplete {
			return false
		}
	}
	return true
}

// AnyPermanentlyFailed reports whether at least one task has permanently
// failed (exhausted its retry budget).
func (p *Project) AnyPermanentlyFailed() bool {
	for _, t := range p.Tasks {
		if t.Status == TaskFailed {
			return true
		}
	}
	return false
}

// Artifact is an opaque byte stream with accompanying metadata. Contents
// are written to disk separately (artifacts/ or deliverables/); this
// struct is the record kept alongside a task's result_ref bookkeeping.
type Artifact struct {
	ProjectID string       `json:"project_id"`
	TaskID    string       `json:"task_id"`
	Kind      ArtifactKind `json:"kind"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	SHA       string       `json:"sha"`
}
