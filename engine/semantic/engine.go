package semantic

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Engine contract
// -----------------------------------------------------------------------------

// QueryRequest is the normalized query handed to an engine. RequestID equals
// the service-assigned query id so warehouse logs correlate with stored
// queries.
type QueryRequest struct {
	RequestID        string
	MetricNames      []string
	GroupByNames     []string
	WhereConstraints []string
	OrderByNames     []string
	Limit            *int
}

// QueryResult carries the executed SQL and the materialized table.
type QueryResult struct {
	SQL      string
	Table    *DataTable
	Warnings []string
}

// ExplainResult carries compiled SQL without execution.
type ExplainResult struct {
	SQL string
}

// DimensionValuesRequest asks for the distinct values of one dimension,
// scoped to the models backing the given metrics.
type DimensionValuesRequest struct {
	Dimension   string
	MetricNames []string
	StartTime   *time.Time
	EndTime     *time.Time
}

// Engine turns structured metric queries into SQL and executes them against a
// warehouse. Implementations must be safe for concurrent read queries; a
// handle obtained from the provider stays valid for the duration of one
// request even if the provider swaps in a new engine.
type Engine interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)
	Explain(ctx context.Context, req QueryRequest) (*ExplainResult, error)
	DimensionValues(ctx context.Context, req DimensionValuesRequest) ([]string, error)
	Manifest() *Manifest
	SQLClient() SQLClient
	Close()
}

// -----------------------------------------------------------------------------
// SQL client / adapter contract
// -----------------------------------------------------------------------------

// Adapter identifies the warehouse backend attached to a SQL client.
type Adapter interface {
	Type() string
	Database() string
}

// SQLClient executes SQL against one warehouse connection pool.
type SQLClient interface {
	Execute(ctx context.Context, sql string) (*DataTable, error)
	Adapter() Adapter
	Close()
}

// -----------------------------------------------------------------------------
// Engine error taxonomy
// -----------------------------------------------------------------------------

var (
	// ErrUnknownMetric marks queries referencing a metric the manifest does
	// not define.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrInvalidQuery marks structurally invalid queries (bad group-by,
	// unjoinable dimension, malformed order-by).
	ErrInvalidQuery = errors.New("invalid query")
)

// ExecutionError wraps a warehouse-side failure.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// InternalError wraps an unexpected engine-side failure.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal engine error: %v", e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
