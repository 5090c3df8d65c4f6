package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound reports a job id with no matching record.
	ErrNotFound = errors.New("job not found")
	// ErrCorrupt reports a jobs file whose content failed to parse.
	// Callers log it and treat the store as empty to stay available.
	ErrCorrupt = errors.New("jobs file corrupt")
)

// Store is the durable record of job definitions: one JSON array in one
// file, rewritten wholesale on every mutation. A crash between compute and
// rename loses only the in-flight mutation; the previous file stays intact.
//
// The store assumes a single writer. HTTP handlers and the engine serialize
// their mutations through the mutex here; there is no cross-process locking.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("jobs file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// Path reports the backing file location.
func (s *Store) Path() string { return s.path }

// List returns all stored jobs. A missing file is an empty store, not an
// error. Unparseable content surfaces ErrCorrupt.
func (s *Store) List() ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) listLocked() ([]Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return jobs, nil
}

// Get returns the job with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Job, error) {
	jobs, err := s.List()
	if err != nil {
		return Job{}, err
	}
	for _, j := range jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return Job{}, ErrNotFound
}

// Append adds a job and rewrites the whole collection.
func (s *Store) Append(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.listLocked()
	if err != nil {
		return err
	}
	jobs = append(jobs, j)
	return s.writeLocked(jobs)
}

// Remove deletes the matching entry. If no entry matched it reports
// ErrNotFound and performs no write.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.listLocked()
	if err != nil {
		return err
	}
	kept := jobs[:0]
	for _, j := range jobs {
		if j.ID == id {
			continue
		}
		kept = append(kept, j)
	}
	if len(kept) == len(jobs) {
		return ErrNotFound
	}
	return s.writeLocked(kept)
}

// writeLocked rewrites the jobs file atomically: marshal to a temp file in
// the same directory, then rename over the old one.
func (s *Store) writeLocked(jobs []Job) error {
	if jobs == nil {
		jobs = []Job{}
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
