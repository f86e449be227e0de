// Package cron implements the Cron Scheduler (C11): persisted job
// records fired by a single background ticker. Grounded on
// original_source/core/cron_store.py (JSON store, atomic write) and
// original_source/core/cron.py (expression parsing, scheduler loop).
package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Job is one scheduled cron record (spec §4.11's
// {expression, task, enabled, next_run, last_run, run_count}, plus the
// session_id the task executes against).
type Job struct {
	ID         string    `json:"id"`
	Expression string    `json:"expression"`
	Task       string    `json:"task"`
	SessionID  string    `json:"session_id,omitempty"`
	Enabled    bool      `json:"enabled"`
	NextRun    time.Time `json:"next_run"`
	LastRun    time.Time `json:"last_run,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	RunCount   int       `json:"run_count"`
}

type storeFile struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// Store is JSON-file-backed persistence for cron jobs, with
// write-temp-then-rename atomic saves (spec §5's "persistent stores
// MUST perform atomic file replacement").
type Store struct {
	path string

	mu   sync.Mutex
	jobs map[string]Job
}

// NewStore opens (without yet loading) a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path, jobs: make(map[string]Job)}
}

// Load reads jobs from disk, replacing the in-memory set. A missing
// file is not an error — it means no jobs have been persisted yet.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.jobs = make(map[string]Job)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cron: read store: %w", err)
	}

	var sf storeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("cron: parse store: %w", err)
	}
	jobs := make(map[string]Job, len(sf.Jobs))
	for _, j := range sf.Jobs {
		jobs[j.ID] = j
	}
	s.jobs = jobs
	return nil
}

// save performs the atomic write; caller holds s.mu.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("cron: create store dir: %w", err)
	}

	sf := storeFile{Version: 1, Jobs: make([]Job, 0, len(s.jobs))}
	for _, j := range s.jobs {
		sf.Jobs = append(sf.Jobs, j)
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("cron: marshal store: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("cron: write temp store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cron: rename temp store: %w", err)
	}
	return nil
}

// Add inserts or replaces a job and persists.
func (s *Store) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return s.save()
}

// Update replaces an existing job's record and persists.
func (s *Store) Update(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("cron: unknown job %q", job.ID)
	}
	s.jobs[job.ID] = job
	return s.save()
}

// Remove deletes a job by id and persists. Returns false if absent.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, s.save()
}

// Get returns a copy of one job.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// List returns a snapshot of all jobs.
func (s *Store) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// ListEnabled returns a snapshot of enabled jobs only.
func (s *Store) ListEnabled() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out
}
