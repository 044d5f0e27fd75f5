package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/engine/filter"
	"github.com/lightdash/metricflow-service/engine/semantic"
	"github.com/lightdash/metricflow-service/pkg/logger"
	"github.com/lightdash/metricflow-service/pkg/perf"
)

// -----------------------------------------------------------------------------
// Inputs
// -----------------------------------------------------------------------------

type MetricInput struct {
	Name string
}

type GroupByInput struct {
	Name  string
	Grain *semantic.TimeGranularity
}

// OrderByInput orders by exactly one of a metric or a group-by.
type OrderByInput struct {
	Descending bool
	Metric     *MetricInput
	GroupBy    *GroupByInput
}

// ValidationResult is the outcome of ValidateQuery.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

type ValidationIssue struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// EngineProvider supplies engines for query execution.
type EngineProvider interface {
	GetEngine(projectID string) (semantic.Engine, error)
}

// Normalizer rewrites engine SQL for the active adapter.
type Normalizer func(sql string, engine semantic.Engine) string

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// Service prepares, validates, executes, and serves metric queries.
type Service struct {
	store        *Store
	engines      EngineProvider
	normalizeSQL Normalizer
	perf         *perf.Logger
	maxLimit     int

	jobs chan func()
}

// Options configures a Service.
type Options struct {
	Store        *Store
	Engines      EngineProvider
	NormalizeSQL Normalizer
	Perf         *perf.Logger
	MaxLimit     int
	AsyncWorkers int
}

// NewService builds a service and starts its async worker pool.
func NewService(opts Options) *Service {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 10000
	}
	if opts.AsyncWorkers <= 0 {
		opts.AsyncWorkers = 4
	}
	if opts.Perf == nil {
		opts.Perf = perf.Noop()
	}
	if opts.NormalizeSQL == nil {
		opts.NormalizeSQL = func(sql string, _ semantic.Engine) string { return sql }
	}
	svc := &Service{
		store:        opts.Store,
		engines:      opts.Engines,
		normalizeSQL: opts.NormalizeSQL,
		perf:         opts.Perf,
		maxLimit:     opts.MaxLimit,
		jobs:         make(chan func(), opts.AsyncWorkers*4),
	}
	for i := 0; i < opts.AsyncWorkers; i++ {
		go svc.worker()
	}
	return svc
}

func (s *Service) worker() {
	for job := range s.jobs {
		job()
	}
}

// Close stops accepting async work.
func (s *Service) Close() {
	close(s.jobs)
}

// -----------------------------------------------------------------------------
// Normalization
// -----------------------------------------------------------------------------

func normalizeGroupBy(groupBy GroupByInput) string {
	if groupBy.Grain != nil {
		return fmt.Sprintf("%s__%s", groupBy.Name, strings.ToLower(string(*groupBy.Grain)))
	}
	return groupBy.Name
}

func normalizeOrderBy(orderBy OrderByInput) (string, error) {
	if orderBy.Metric != nil && orderBy.GroupBy != nil {
		return "", core.NewError(core.CodeValidationError, http.StatusUnprocessableEntity,
			"orderBy can only reference a metric or a groupBy")
	}
	if orderBy.Metric == nil && orderBy.GroupBy == nil {
		return "", core.NewError(core.CodeValidationError, http.StatusUnprocessableEntity,
			"orderBy must reference a metric or a groupBy")
	}
	target := ""
	if orderBy.Metric != nil {
		target = orderBy.Metric.Name
	} else {
		target = normalizeGroupBy(*orderBy.GroupBy)
	}
	if orderBy.Descending {
		return "-" + target, nil
	}
	return target, nil
}

func (s *Service) clampLimit(limit *int) *int {
	if limit == nil {
		return nil
	}
	clamped := *limit
	if clamped > s.maxLimit {
		clamped = s.maxLimit
	}
	return &clamped
}

// -----------------------------------------------------------------------------
// Preparation
// -----------------------------------------------------------------------------

type prepared struct {
	engine       semantic.Engine
	request      semantic.QueryRequest
	where        []string
	groupByNames []string
	orderByNames []string
}

// prepare normalizes and validates the request once, so errors surface
// synchronously even for async queries.
func (s *Service) prepare(
	projectID string,
	metrics []MetricInput,
	groupBy []GroupByInput,
	filters *filter.Filters,
	orderBy []OrderByInput,
	limit *int,
	requestID string,
) (*prepared, error) {
	metricNames := make([]string, len(metrics))
	for i, metric := range metrics {
		metricNames[i] = metric.Name
	}
	groupByNames := make([]string, len(groupBy))
	for i, item := range groupBy {
		groupByNames[i] = normalizeGroupBy(item)
	}
	orderByNames := make([]string, 0, len(orderBy))
	for _, item := range orderBy {
		name, err := normalizeOrderBy(item)
		if err != nil {
			return nil, err
		}
		orderByNames = append(orderByNames, name)
	}
	engine, err := s.engines.GetEngine(projectID)
	if err != nil {
		return nil, err
	}
	entityNames := engine.Manifest().EntityNames()
	where, err := filter.Compile(filters, groupByNames, entityNames)
	if err != nil {
		return nil, err
	}
	return &prepared{
		engine: engine,
		request: semantic.QueryRequest{
			RequestID:        requestID,
			MetricNames:      metricNames,
			GroupByNames:     groupByNames,
			WhereConstraints: where,
			OrderByNames:     orderByNames,
			Limit:            s.clampLimit(limit),
		},
		where:        where,
		groupByNames: groupByNames,
		orderByNames: orderByNames,
	}, nil
}

// -----------------------------------------------------------------------------
// Error taxonomy mapping
// -----------------------------------------------------------------------------

func mapEngineError(err error, compile bool) *core.Error {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return coreErr
	}
	failureCode := core.CodeQueryExecFailed
	if compile {
		failureCode = core.CodeQueryCompileFailed
	}
	switch {
	case errors.Is(err, semantic.ErrUnknownMetric):
		return core.WrapError(core.CodeMetricNotFound, http.StatusNotFound, err.Error(), err)
	case errors.Is(err, semantic.ErrInvalidQuery):
		return core.WrapError(core.CodeValidationError, http.StatusUnprocessableEntity, err.Error(), err)
	}
	var execErr *semantic.ExecutionError
	if errors.As(err, &execErr) {
		return core.WrapError(failureCode, http.StatusInternalServerError, err.Error(), err)
	}
	var internalErr *semantic.InternalError
	if errors.As(err, &internalErr) {
		return core.WrapError(failureCode, http.StatusInternalServerError, err.Error(), err)
	}
	return core.WrapError(core.CodeInternalError, http.StatusInternalServerError, err.Error(), err)
}

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// CreateQuery allocates a query id, prepares the request, and either executes
// inline or hands off to the async pool. Preparation errors surface
// synchronously in both modes.
func (s *Service) CreateQuery(
	ctx context.Context,
	projectID string,
	metrics []MetricInput,
	groupBy []GroupByInput,
	filters *filter.Filters,
	orderBy []OrderByInput,
	limit *int,
	asyncRun bool,
) (string, error) {
	queryID := uuid.NewString()
	span := s.perf.Start("query_service:create_query", map[string]any{
		"query_id": queryID,
		"metrics":  len(metrics),
		"group_by": len(groupBy),
		"async":    asyncRun,
	})
	prep, err := s.prepare(projectID, metrics, groupBy, filters, orderBy, limit, queryID)
	if err != nil {
		span.Finish(map[string]any{"status": "ERROR", "error": err.Error()})
		return "", err
	}

	status := semantic.QueryRunning
	if asyncRun {
		status = semantic.QueryPending
	}
	metricNames := prep.request.MetricNames
	s.store.Set(&StoredQuery{
		QueryID:   queryID,
		ProjectID: projectID,
		Status:    status,
		RequestPayload: RequestPayload{
			Metrics: metricNames,
			GroupBy: prep.groupByNames,
			Where:   prep.where,
			OrderBy: prep.orderByNames,
			Limit:   limit,
		},
	})

	if asyncRun {
		s.jobs <- func() {
			s.runQuery(context.Background(), projectID, queryID, prep.request)
		}
		span.Finish(map[string]any{"status": "PENDING"})
		return queryID, nil
	}

	engineStart := time.Now()
	result, err := prep.engine.Query(ctx, prep.request)
	if err != nil {
		mapped := mapEngineError(err, false)
		span.Finish(map[string]any{"status": "ERROR", "error": mapped.Message})
		return "", mapped
	}
	s.completeQuery(queryID, prep.engine, result)
	span.Finish(map[string]any{
		"status":    "SUCCESSFUL",
		"engine_ms": time.Since(engineStart).Milliseconds(),
	})
	return queryID, nil
}

// runQuery is the async worker body; every failure lands in the store, never
// in a panic or a lost error.
func (s *Service) runQuery(ctx context.Context, projectID, queryID string, request semantic.QueryRequest) {
	span := s.perf.Start("query_service:run_query", map[string]any{
		"query_id": queryID,
		"async":    true,
	})
	s.store.Update(queryID, func(stored *StoredQuery) {
		stored.Status = semantic.QueryRunning
	})
	engine, err := s.engines.GetEngine(projectID)
	if err == nil {
		var result *semantic.QueryResult
		result, err = engine.Query(ctx, request)
		if err == nil {
			s.completeQuery(queryID, engine, result)
			span.Finish(map[string]any{"status": "SUCCESSFUL"})
			return
		}
	}
	message := err.Error()
	span.Finish(map[string]any{"status": "FAILED", "error": message})
	logger.Warn("async query failed", "query_id", queryID, "error", message)
	s.store.Update(queryID, func(stored *StoredQuery) {
		stored.Status = semantic.QueryFailed
		stored.Error = message
	})
}

func (s *Service) completeQuery(queryID string, engine semantic.Engine, result *semantic.QueryResult) {
	sql := s.normalizeSQL(result.SQL, engine)
	columns, rows := semantic.EncodeRowsAndColumns(result.Table)
	logger.Debug("query completed",
		"query_id", queryID,
		"columns", result.Table.ColumnNames(),
		"rows", len(rows),
	)
	s.store.Update(queryID, func(stored *StoredQuery) {
		stored.Status = semantic.QuerySuccessful
		stored.SQL = sql
		stored.Columns = columns
		stored.Rows = rows
		stored.Warnings = result.Warnings
		stored.TotalPages = 1
		stored.Error = ""
	})
}

// GetQueryResult serves the stored state of a query.
func (s *Service) GetQueryResult(projectID, queryID string) (*semantic.QueryResultDTO, error) {
	stored, expired := s.store.Get(queryID)
	if expired {
		return nil, core.NewError(core.CodeQueryExpired, http.StatusGone,
			fmt.Sprintf("queryId=%s has expired", queryID))
	}
	if stored == nil || stored.ProjectID != projectID {
		return nil, core.NewError(core.CodeQueryNotFound, http.StatusNotFound,
			fmt.Sprintf("queryId=%s not found", queryID))
	}
	if !stored.Status.Terminal() {
		return &semantic.QueryResultDTO{
			Status:     stored.Status,
			SQL:        stored.SQL,
			TotalPages: 1,
			Error:      stored.Error,
		}, nil
	}
	return stored.ToResult(), nil
}

// DeleteQuery removes a stored query after an ownership check.
func (s *Service) DeleteQuery(projectID, queryID string) error {
	stored, _ := s.store.Get(queryID)
	if stored == nil || stored.ProjectID != projectID {
		return core.NewError(core.CodeQueryNotFound, http.StatusNotFound,
			fmt.Sprintf("queryId=%s not found", queryID))
	}
	s.store.Delete(queryID)
	return nil
}

// CompileSQL runs the preparation path and returns normalized SQL without
// executing it.
func (s *Service) CompileSQL(
	ctx context.Context,
	projectID string,
	metrics []MetricInput,
	groupBy []GroupByInput,
	filters *filter.Filters,
	orderBy []OrderByInput,
	limit *int,
) (string, error) {
	span := s.perf.Start("query_service:compile_sql", map[string]any{
		"metrics":  len(metrics),
		"group_by": len(groupBy),
	})
	prep, err := s.prepare(projectID, metrics, groupBy, filters, orderBy, limit, "")
	if err != nil {
		span.Finish(map[string]any{"status": "ERROR", "error": err.Error()})
		return "", err
	}
	explain, err := prep.engine.Explain(ctx, prep.request)
	if err != nil {
		mapped := mapEngineError(err, true)
		span.Finish(map[string]any{"status": "ERROR", "error": mapped.Message})
		return "", mapped
	}
	sql := s.normalizeSQL(explain.SQL, prep.engine)
	span.Finish(map[string]any{"status": "SUCCESSFUL", "sql_length": len(sql)})
	return sql, nil
}

// ValidateQuery runs preparation only and reports issues instead of failing.
func (s *Service) ValidateQuery(
	projectID string,
	metrics []MetricInput,
	groupBy []GroupByInput,
	filters *filter.Filters,
	orderBy []OrderByInput,
	limit *int,
) *ValidationResult {
	_, err := s.prepare(projectID, metrics, groupBy, filters, orderBy, limit, "")
	if err == nil {
		return &ValidationResult{Errors: []ValidationIssue{}, Warnings: []ValidationIssue{}}
	}
	coreErr := core.AsError(err)
	return &ValidationResult{
		Errors: []ValidationIssue{{
			Code:    coreErr.Code.String(),
			Message: coreErr.Message,
			Details: coreErr.Details,
		}},
		Warnings: []ValidationIssue{},
	}
}

// GetDimensionValues passes through to the engine with taxonomy mapping.
func (s *Service) GetDimensionValues(
	ctx context.Context,
	projectID string,
	dimension string,
	metrics []string,
	startTime, endTime *time.Time,
) ([]string, error) {
	engine, err := s.engines.GetEngine(projectID)
	if err != nil {
		return nil, err
	}
	values, err := engine.DimensionValues(ctx, semantic.DimensionValuesRequest{
		Dimension:   dimension,
		MetricNames: metrics,
		StartTime:   startTime,
		EndTime:     endTime,
	})
	if err != nil {
		return nil, mapEngineError(err, false)
	}
	return values, nil
}
