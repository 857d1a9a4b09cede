// Package tracker persists the file lists written by successful
// installs so applications can be removed cleanly later.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one installed application: every file path observed to
// exist immediately after its Install phase.
type Record struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Version        string    `json:"version,omitempty"`
	Prefix         string    `json:"prefix"`
	BuildSystem    string    `json:"build_system"`
	MainExecutable string    `json:"main_executable,omitempty"`
	Files          []string  `json:"files"`
	InstalledAt    time.Time `json:"installed_at"`
}

// RemovalSummary accounts for every recorded path exactly once.
type RemovalSummary struct {
	Removed []string
	Missing []string
	Failed  []RemovalFailure
}

// RemovalFailure is a path that could not be deleted and why.
type RemovalFailure struct {
	Path string
	Err  string
}

// Store is an on-disk install record store, one JSON file per record.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save persists a record, assigning an ID and timestamp when unset.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.InstalledAt.IsZero() {
		rec.InstalledAt = time.Now().UTC()
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure record dir: %w", err)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal install record: %w", err)
	}
	if err := os.WriteFile(s.recordPath(rec.ID), raw, 0o644); err != nil {
		return fmt.Errorf("write install record: %w", err)
	}
	return nil
}

// Get loads one record by ID.
func (s *Store) Get(id string) (*Record, error) {
	raw, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse install record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns all records, newest install first.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list install records: %w", err)
	}
	records := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].InstalledAt.After(records[j].InstalledAt)
	})
	return records, nil
}

// Remove deletes every recorded path that still exists and then the
// record itself. Missing paths are skipped; per-path failures are
// reported but never abort removal of the remaining files.
func (s *Store) Remove(id string) (*RemovalSummary, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, fmt.Errorf("load install record %s: %w", id, err)
	}

	summary := &RemovalSummary{}
	for _, path := range rec.Files {
		if _, err := os.Lstat(path); err != nil {
			summary.Missing = append(summary.Missing, path)
			continue
		}
		if err := os.Remove(path); err != nil {
			summary.Failed = append(summary.Failed, RemovalFailure{Path: path, Err: err.Error()})
			continue
		}
		summary.Removed = append(summary.Removed, path)
	}

	if err := os.Remove(s.recordPath(id)); err != nil {
		return summary, fmt.Errorf("delete install record %s: %w", id, err)
	}
	return summary, nil
}
