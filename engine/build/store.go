package build

import (
	"sort"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Build Status
// -----------------------------------------------------------------------------

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// -----------------------------------------------------------------------------
// Record
// -----------------------------------------------------------------------------

// Record is the lifecycle state of one build run. StartedAt is set on the
// PENDING to RUNNING transition, so a build rejected before winning the
// project lock never carries one.
type Record struct {
	BuildID    string     `json:"buildId"`
	ProjectID  string     `json:"projectId"`
	Status     Status     `json:"status"`
	GitRef     string     `json:"gitRef,omitempty"`
	Commit     string     `json:"commit,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Errors     []string   `json:"errors"`
	Warnings   []string   `json:"warnings"`
	LogTail    []string   `json:"logTail,omitempty"`
}

func (r *Record) clone() *Record {
	out := *r
	out.Errors = append([]string(nil), r.Errors...)
	out.Warnings = append([]string(nil), r.Warnings...)
	out.LogTail = append([]string(nil), r.LogTail...)
	if r.StartedAt != nil {
		started := *r.StartedAt
		out.StartedAt = &started
	}
	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		out.FinishedAt = &finished
	}
	return &out
}

// PersistenceHooks mirror build records to durable storage. The in-memory
// default is a no-op.
type PersistenceHooks interface {
	Persist(record *Record)
}

type noopHooks struct{}

func (noopHooks) Persist(*Record) {}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is a thread-safe map of build records. Reads return copies so workers
// can keep mutating through Update without racing readers.
type Store struct {
	hooks PersistenceHooks

	mu    sync.Mutex
	items map[string]*Record
}

type StoreOption func(*Store)

func WithHooks(hooks PersistenceHooks) StoreOption {
	return func(s *Store) { s.hooks = hooks }
}

func NewStore(opts ...StoreOption) *Store {
	store := &Store{
		hooks: noopHooks{},
		items: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Set inserts or replaces a record.
func (s *Store) Set(record *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[record.BuildID] = record.clone()
	s.hooks.Persist(record)
}

// Get returns a copy of the record, or nil when absent.
func (s *Store) Get(buildID string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.items[buildID]
	if !ok {
		return nil
	}
	return record.clone()
}

// Update applies the mutation atomically and returns the updated copy, or nil
// when absent.
func (s *Store) Update(buildID string, mutate func(*Record)) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.items[buildID]
	if !ok {
		return nil
	}
	mutate(record)
	s.hooks.Persist(record)
	return record.clone()
}

// List returns the project's records, newest first.
func (s *Store) List(projectID string) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]*Record, 0)
	for _, record := range s.items {
		if record.ProjectID == projectID {
			records = append(records, record.clone())
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records
}
