package project

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conductorctl/conductor/internal/errs"
	"github.com/conductorctl/conductor/internal/logger"
)

// layout is one directory per project.
const (
	stateFileName  = "state.json"
	eventsFileName = "events.log"
	artifactsDir   = "artifacts"
	deliverDir     = "deliverables"
	logsDir        = "logs"
)

// Store is the crash-safe, atomic, versioned on-disk representation of a
// Project. One Store instance serves every project under projectsDir;
// per-project mutation is serialized by a per-project lock held
// in-process, and the atomic rename gives crash safety across
// processes.
type Store struct {
	projectsDir string

	mu          sync.Mutex
	locks       map[string]*sync.Mutex
	seenVersion map[string]int // highest version observed per project_id in this process
}

// NewStore creates a Store rooted at projectsDir, creating it if absent.
func NewStore(projectsDir string) (*Store, error) {
	if err := os.MkdirAll(projectsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}
	return &Store{
		projectsDir: projectsDir,
		locks:       make(map[string]*sync.Mutex),
		seenVersion: make(map[string]int),
	}, nil
}

func (s *Store) lockFor(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectID] = l
	}
	return l
}

func (s *Store) dir(projectID string) string {
	return filepath.Join(s.projectsDir, projectID)
}

func (s *Store) statePath(projectID string) string {
	return filepath.Join(s.dir(projectID), stateFileName)
}

func (s *Store) eventsPath(projectID string) string {
	return filepath.Join(s.dir(projectID), eventsFileName)
}

// Create initializes a brand new Project in the planning state and
// persists it.
func (s *Store) Create(objective string, configSnapshot map[string]any) (*Project, error) {
	projectID := uuid.NewString()
	now := time.Now().UTC()

	p := &Project{
		Version:        1,
		ProjectID:      projectID,
		Objective:      objective,
		Status:         StatusPlanning,
		CreatedAt:      now,
		UpdatedAt:      now,
		Tasks:          make(map[string]*Task),
		Usage:          Usage{PerAgent: make(map[string]AgentUsage)},
		ConfigSnapshot: configSnapshot,
	}

	for _, d := range []string{s.dir(projectID), filepath.Join(s.dir(projectID), artifactsDir),
		filepath.Join(s.dir(projectID), deliverDir), filepath.Join(s.dir(projectID), logsDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create project layout: %w", err)
		}
	}

	if err := s.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads the canonical state.json for projectID. If it fails schema
// validation, the most recent valid backup is used instead and a
// restored_from_backup event is appended.
func (s *Store) Load(projectID string) (*Project, error) {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.readAndValidate(s.statePath(projectID))
	if err == nil {
		s.recordSeen(p)
		return p, nil
	}

	logger.WarnCF("project", "canonical state invalid, restoring from backup", map[string]any{
		"project_id": projectID, "error": err.Error(),
	})

	backupPath, berr := s.latestBackup(projectID)
	if berr != nil {
		return nil, fmt.Errorf("%w: canonical invalid (%v) and no valid backup (%v)", errs.ErrSchemaInvalid, err, berr)
	}

	p, rerr := s.readAndValidate(backupPath)
	if rerr != nil {
		return nil, fmt.Errorf("%w: backup also invalid: %v", errs.ErrSchemaInvalid, rerr)
	}

	s.recordSeen(p)
	s.appendEventLocked(projectID, Event{
		Timestamp: time.Now().UTC(),
		Kind:      "restored_from_backup",
		Detail:    map[string]any{"backup": filepath.Base(backupPath)},
	})
	return p, nil
}

func (s *Store) readAndValidate(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSchemaInvalid, err)
	}
	if p.ProjectID == "" || p.Version == 0 {
		return nil, fmt.Errorf("%w: missing required fields", errs.ErrSchemaInvalid)
	}
	return &p, nil
}

func (s *Store) latestBackup(projectID string) (string, error) {
	entries, err := os.ReadDir(s.dir(projectID))
	if err != nil {
		return "", err
	}
	var candidates []string
	prefix := stateFileName + ".bak-"
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no backups found")
	}
	sort.Strings(candidates) // timestamps sort lexicographically
	return filepath.Join(s.dir(projectID), candidates[len(candidates)-1]), nil
}

// Save atomically persists p: a sibling temp file is written and fsynced,
// the existing canonical file (if any) is copied aside as a timestamped
// backup, then the temp file is renamed over the canonical path and the
// containing directory is fsynced, best-effort, so the rename itself is
// durable.
//
// Save rejects writing a version older than one this process has already
// observed for the same project, preventing stale-write races between
// concurrent orchestrators.
func (s *Store) Save(p *Project) error {
	lock := s.lockFor(p.ProjectID)
	lock.Lock()
	defer lock.Unlock()
	return s.saveLocked(p)
}

func (s *Store) saveLocked(p *Project) error {
	s.mu.Lock()
	seen := s.seenVersion[p.ProjectID]
	s.mu.Unlock()
	if p.Version < seen {
		return fmt.Errorf("stale write: version %d older than observed %d", p.Version, seen)
	}

	p.UpdatedAt = time.Now().UTC()
	canonical := s.statePath(p.ProjectID)
	dir := filepath.Dir(canonical)

	if _, err := os.Stat(canonical); err == nil {
		backup := fmt.Sprintf("%s.bak-%s", canonical, time.Now().UTC().Format("20060102T150405.000000000Z"))
		if data, rerr := os.ReadFile(canonical); rerr == nil {
			if werr := os.WriteFile(backup, data, 0o644); werr != nil {
				logger.WarnCF("project", "failed to write backup copy", map[string]any{"error": werr.Error()})
			}
		}
	}

	tmp, err := os.CreateTemp(dir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		tmp.Close()
		return fmt.Errorf("marshal project: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, canonical); err != nil {
		return fmt.Errorf("rename temp state file: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		if err := dirFile.Sync(); err != nil {
			logger.WarnCF("project", "directory fsync after rename failed", map[string]any{"error": err.Error()})
		}
		dirFile.Close()
	}

	s.mu.Lock()
	if p.Version > s.seenVersion[p.ProjectID] {
		s.seenVersion[p.ProjectID] = p.Version
	}
	s.mu.Unlock()

	return nil
}

func (s *Store) recordSeen(p *Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Version > s.seenVersion[p.ProjectID] {
		s.seenVersion[p.ProjectID] = p.Version
	}
}

// AppendEvent appends a newline-delimited JSON event record.
func (s *Store) AppendEvent(projectID string, ev Event) error {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()
	return s.appendEventLocked(projectID, ev)
}

func (s *Store) appendEventLocked(projectID string, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	f, err := os.OpenFile(s.eventsPath(projectID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open events log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// ReplayEvents reads every event ever appended for projectID, in order.
// Used for exit-code classification and audit/debug tooling, so
// events.log is never a write-only artifact.
func (s *Store) ReplayEvents(projectID string) ([]Event, error) {
	f, err := os.Open(s.eventsPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// Snapshot returns the identifier of the most recent backup for projectID,
// creating a fresh backup of the current canonical file first so a caller
// can always restore to "now" even if no write happens in between.
func (s *Store) Snapshot(projectID string) (string, error) {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	canonical := s.statePath(projectID)
	data, err := os.ReadFile(canonical)
	if err != nil {
		return "", fmt.Errorf("read canonical state: %w", err)
	}
	backupID := fmt.Sprintf("%s.bak-%s", stateFileName, time.Now().UTC().Format("20060102T150405.000000000Z"))
	backupPath := filepath.Join(s.dir(projectID), backupID)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return backupID, nil
}

// Restore overwrites the canonical state with the contents of backupID,
// going through the same atomic rename path as Save.
func (s *Store) Restore(projectID string, backupID string) error {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	backupPath := filepath.Join(s.dir(projectID), backupID)
	p, err := s.readAndValidate(backupPath)
	if err != nil {
		return fmt.Errorf("restore target invalid: %w", err)
	}
	// The restored content is written as a new, newer version so the
	// stale-write check does not reject it.
	s.mu.Lock()
	if seen := s.seenVersion[projectID]; p.Version <= seen {
		p.Version = seen + 1
	}
	s.mu.Unlock()
	return s.saveLocked(p)
}

// ArtifactsDir returns the directory an artifact extractor should write
// raw_output blobs for taskID under.
func (s *Store) ArtifactsDir(projectID, taskID string) string {
	return filepath.Join(s.dir(projectID), artifactsDir, taskID)
}

// DeliverablesDir returns the directory extracted deliverable files live
// under for projectID.
func (s *Store) DeliverablesDir(projectID string) string {
	return filepath.Join(s.dir(projectID), deliverDir)
}

// LogsDir returns the per-run logs directory for projectID.
func (s *Store) LogsDir(projectID string) string {
	return filepath.Join(s.dir(projectID), logsDir)
}
