package query

import (
	"sync"
	"time"

	"github.com/lightdash/metricflow-service/engine/semantic"
)

// RequestPayload echoes the normalized inputs of a stored query.
type RequestPayload struct {
	Metrics []string `json:"metrics"`
	GroupBy []string `json:"group_by"`
	Where   []string `json:"where"`
	OrderBy []string `json:"order_by"`
	Limit   *int     `json:"limit"`
}

// StoredQuery is one query record tracked by the store.
type StoredQuery struct {
	QueryID        string
	ProjectID      string
	Status         semantic.QueryStatus
	SQL            string
	Columns        []semantic.Column
	Rows           []map[string]any
	Warnings       []string
	TotalPages     int
	Error          string
	CreatedAt      time.Time
	RequestPayload RequestPayload
}

// ToResult converts the record to the client-facing DTO.
func (q *StoredQuery) ToResult() *semantic.QueryResultDTO {
	return &semantic.QueryResultDTO{
		Status:     q.Status,
		SQL:        q.SQL,
		Columns:    q.Columns,
		Rows:       q.Rows,
		Warnings:   q.Warnings,
		TotalPages: q.TotalPages,
		Error:      q.Error,
	}
}

// PersistenceHooks mirror store mutations to durable storage. The in-memory
// default is a no-op.
type PersistenceHooks interface {
	Persist(stored *StoredQuery)
	Remove(queryID string)
}

type noopHooks struct{}

func (noopHooks) Persist(*StoredQuery) {}
func (noopHooks) Remove(string)        {}

// Store is a thread-safe TTL map of query records.
type Store struct {
	ttl   time.Duration
	hooks PersistenceHooks

	mu    sync.Mutex
	items map[string]*StoredQuery
	now   func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithHooks installs persistence hooks.
func WithHooks(hooks PersistenceHooks) StoreOption {
	return func(s *Store) { s.hooks = hooks }
}

// WithClock overrides the store clock, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an in-memory store with the given TTL.
func NewStore(ttl time.Duration, opts ...StoreOption) *Store {
	store := &Store{
		ttl:   ttl,
		hooks: noopHooks{},
		items: make(map[string]*StoredQuery),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// isExpired applies the strict-inequality TTL rule: a record created exactly
// ttl ago is still alive.
func (s *Store) isExpired(stored *StoredQuery) bool {
	return s.now().UTC().Sub(stored.CreatedAt) > s.ttl
}

// Get returns (stored, expired). An expired record is evicted and reported
// once; later reads see (nil, false).
func (s *Store) Get(queryID string) (*StoredQuery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[queryID]
	if !ok {
		return nil, false
	}
	if s.isExpired(stored) {
		delete(s.items, queryID)
		s.hooks.Remove(queryID)
		return nil, true
	}
	return stored, false
}

// Set inserts or replaces a record.
func (s *Store) Set(stored *StoredQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.items[stored.QueryID] = stored
	s.hooks.Persist(stored)
}

// Update applies the mutation atomically. Returns the record, or nil when
// absent.
func (s *Store) Update(queryID string, mutate func(*StoredQuery)) *StoredQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[queryID]
	if !ok {
		return nil
	}
	mutate(stored)
	s.hooks.Persist(stored)
	return stored
}

// Delete removes a record.
func (s *Store) Delete(queryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, queryID)
	s.hooks.Remove(queryID)
}
