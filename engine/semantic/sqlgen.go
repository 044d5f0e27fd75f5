package semantic

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// manifestEngine is the built-in Engine: it compiles metric queries against
// the parsed manifest into flat aggregate SELECTs and runs them through the
// SQL client. Reads are stateless, so concurrent queries are safe.
type manifestEngine struct {
	manifest *Manifest
	client   SQLClient
}

// NewEngine builds an engine over a parsed manifest and a SQL client.
func NewEngine(manifest *Manifest, client SQLClient) Engine {
	return &manifestEngine{manifest: manifest, client: client}
}

func (e *manifestEngine) Manifest() *Manifest {
	return e.manifest
}

func (e *manifestEngine) SQLClient() SQLClient {
	return e.client
}

func (e *manifestEngine) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

func (e *manifestEngine) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	sql, err := e.compile(req)
	if err != nil {
		return nil, err
	}
	table, err := e.client.Execute(ctx, sql)
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}
	return &QueryResult{SQL: sql, Table: table}, nil
}

func (e *manifestEngine) Explain(_ context.Context, req QueryRequest) (*ExplainResult, error) {
	sql, err := e.compile(req)
	if err != nil {
		return nil, err
	}
	return &ExplainResult{SQL: sql}, nil
}

func (e *manifestEngine) DimensionValues(ctx context.Context, req DimensionValuesRequest) ([]string, error) {
	model, err := e.modelForMetrics(req.MetricNames)
	if err != nil {
		return nil, err
	}
	base, _ := splitGrain(req.Dimension)
	dim, ok := model.Dimension(base)
	if !ok {
		return nil, fmt.Errorf("%w: dimension %q not found in model %q", ErrInvalidQuery, req.Dimension, model.Name)
	}
	var where []string
	if req.StartTime != nil || req.EndTime != nil {
		timeDim, ok := model.primaryTimeDimension()
		if !ok {
			return nil, fmt.Errorf("%w: model %q has no time dimension for time constraints", ErrInvalidQuery, model.Name)
		}
		if req.StartTime != nil {
			where = append(where, fmt.Sprintf("%s >= '%s'", timeDim.Column(), req.StartTime.UTC().Format("2006-01-02 15:04:05")))
		}
		if req.EndTime != nil {
			where = append(where, fmt.Sprintf("%s <= '%s'", timeDim.Column(), req.EndTime.UTC().Format("2006-01-02 15:04:05")))
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT DISTINCT %s AS value FROM %s", dim.Column(), model.NodeRelation.Relation())
	if len(where) > 0 {
		fmt.Fprintf(&sb, " WHERE %s", strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY 1")
	table, err := e.client.Execute(ctx, sb.String())
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}
	values := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		if len(row) > 0 && row[0] != nil {
			values = append(values, fmt.Sprint(row[0]))
		}
	}
	return values, nil
}

// -----------------------------------------------------------------------------
// Compilation
// -----------------------------------------------------------------------------

func (e *manifestEngine) compile(req QueryRequest) (string, error) {
	if len(req.MetricNames) == 0 {
		return "", fmt.Errorf("%w: at least one metric is required", ErrInvalidQuery)
	}
	metrics := make([]*Metric, 0, len(req.MetricNames))
	for _, name := range req.MetricNames {
		metric, ok := e.manifest.Metric(name)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownMetric, name)
		}
		metrics = append(metrics, metric)
	}
	model, err := e.modelForMetrics(req.MetricNames)
	if err != nil {
		return "", err
	}

	selects := make([]string, 0, len(req.GroupByNames)+len(metrics))
	groupCols := make([]string, 0, len(req.GroupByNames))
	outputNames := make(map[string]struct{}, len(req.GroupByNames)+len(metrics))
	for _, name := range req.GroupByNames {
		expr, err := e.groupByExpr(model, name)
		if err != nil {
			return "", err
		}
		selects = append(selects, fmt.Sprintf("%s AS %s", expr, name))
		groupCols = append(groupCols, expr)
		outputNames[name] = struct{}{}
	}
	for _, metric := range metrics {
		agg, err := e.metricAggregate(metric)
		if err != nil {
			return "", err
		}
		selects = append(selects, fmt.Sprintf("%s AS %s", agg, metric.Name))
		outputNames[metric.Name] = struct{}{}
	}

	where, having, err := e.splitConstraints(model, req.WhereConstraints)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(selects, ", "), model.NodeRelation.Relation())
	if len(where) > 0 {
		fmt.Fprintf(&sb, " WHERE %s", strings.Join(where, " AND "))
	}
	if len(groupCols) > 0 {
		fmt.Fprintf(&sb, " GROUP BY %s", strings.Join(groupCols, ", "))
	}
	if len(having) > 0 {
		fmt.Fprintf(&sb, " HAVING %s", strings.Join(having, " AND "))
	}
	if len(req.OrderByNames) > 0 {
		orders := make([]string, 0, len(req.OrderByNames))
		for _, name := range req.OrderByNames {
			direction := "ASC"
			target := name
			if strings.HasPrefix(name, "-") {
				direction = "DESC"
				target = name[1:]
			}
			if _, ok := outputNames[target]; !ok {
				return "", fmt.Errorf("%w: order by %q is not part of the selection", ErrInvalidQuery, target)
			}
			orders = append(orders, fmt.Sprintf("%s %s", target, direction))
		}
		fmt.Fprintf(&sb, " ORDER BY %s", strings.Join(orders, ", "))
	}
	if req.Limit != nil {
		fmt.Fprintf(&sb, " LIMIT %d", *req.Limit)
	}
	return sb.String(), nil
}

func (e *manifestEngine) modelForMetrics(metricNames []string) (*SemanticModel, error) {
	if len(metricNames) == 0 {
		if len(e.manifest.SemanticModels) == 0 {
			return nil, &InternalError{Err: fmt.Errorf("manifest has no semantic models")}
		}
		return &e.manifest.SemanticModels[0], nil
	}
	var base *SemanticModel
	for _, name := range metricNames {
		metric, ok := e.manifest.Metric(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
		}
		model, ok := e.manifest.ModelForMetric(metric)
		if !ok {
			return nil, fmt.Errorf("%w: metric %q has no backing semantic model", ErrInvalidQuery, name)
		}
		if base == nil {
			base = model
		} else if base.Name != model.Name {
			return nil, fmt.Errorf("%w: metrics span semantic models %q and %q", ErrInvalidQuery, base.Name, model.Name)
		}
	}
	return base, nil
}

func (e *manifestEngine) groupByExpr(model *SemanticModel, name string) (string, error) {
	base, grain := splitGrain(name)
	if base == "metric_time" {
		timeDim, ok := model.primaryTimeDimension()
		if !ok {
			return "", fmt.Errorf("%w: model %q has no time dimension backing metric_time", ErrInvalidQuery, model.Name)
		}
		return grainExpr(timeDim.Column(), grain), nil
	}
	if dim, ok := model.Dimension(base); ok {
		if grain != "" && !dim.IsTime() {
			return "", fmt.Errorf("%w: dimension %q is not a time dimension", ErrInvalidQuery, base)
		}
		return grainExpr(dim.Column(), grain), nil
	}
	for _, entity := range model.Entities {
		if entity.Name == base {
			expr := entity.Expr
			if expr == "" {
				expr = entity.Name
			}
			return expr, nil
		}
	}
	return "", fmt.Errorf("%w: group by %q not found in model %q", ErrInvalidQuery, name, model.Name)
}

func grainExpr(column, grain string) string {
	if grain == "" {
		return column
	}
	return fmt.Sprintf("DATE_TRUNC('%s', %s)", grain, column)
}

func (e *manifestEngine) metricAggregate(metric *Metric) (string, error) {
	measureName := metric.TypeParams.Measure.Name
	if measureName == "" {
		return "", fmt.Errorf("%w: metric %q has no measure", ErrInvalidQuery, metric.Name)
	}
	model, ok := e.manifest.ModelForMeasure(measureName)
	if !ok {
		return "", fmt.Errorf("%w: measure %q is not defined by any model", ErrInvalidQuery, measureName)
	}
	var measure *Measure
	for i := range model.Measures {
		if model.Measures[i].Name == measureName {
			measure = &model.Measures[i]
			break
		}
	}
	return aggregateExpr(measure.Agg, measure.Column()), nil
}

func aggregateExpr(agg, column string) string {
	switch strings.ToLower(agg) {
	case "count":
		return fmt.Sprintf("COUNT(%s)", column)
	case "count_distinct":
		return fmt.Sprintf("COUNT(DISTINCT %s)", column)
	case "avg", "average":
		return fmt.Sprintf("AVG(%s)", column)
	case "min":
		return fmt.Sprintf("MIN(%s)", column)
	case "max":
		return fmt.Sprintf("MAX(%s)", column)
	case "sum_boolean":
		return fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END)", column)
	default:
		return fmt.Sprintf("SUM(%s)", column)
	}
}

// -----------------------------------------------------------------------------
// Where-fragment marker resolution
// -----------------------------------------------------------------------------

var (
	dimensionMarkerRe     = regexp.MustCompile(`\{\{\s*Dimension\('((?:[^']|'')*)'\)\s*\}\}`)
	timeDimensionMarkerRe = regexp.MustCompile(`\{\{\s*TimeDimension\('((?:[^']|'')*)',\s*'([a-z]+)'\)\s*\}\}`)
	metricMarkerRe        = regexp.MustCompile(`\{\{\s*Metric\('((?:[^']|'')*)',\s*group_by=\[[^\]]*\]\)\s*\}\}`)
)

// splitConstraints resolves filter markers to SQL expressions. Fragments
// referencing a metric become HAVING conditions; the rest become WHERE
// conditions.
func (e *manifestEngine) splitConstraints(model *SemanticModel, constraints []string) (where, having []string, err error) {
	for _, fragment := range constraints {
		isHaving := metricMarkerRe.MatchString(fragment)
		resolved := fragment
		resolved = metricMarkerRe.ReplaceAllStringFunc(resolved, func(marker string) string {
			name := unescapeIdent(metricMarkerRe.FindStringSubmatch(marker)[1])
			metric, ok := e.manifest.Metric(name)
			if !ok {
				err = fmt.Errorf("%w: %q", ErrUnknownMetric, name)
				return marker
			}
			agg, aggErr := e.metricAggregate(metric)
			if aggErr != nil {
				err = aggErr
				return marker
			}
			return agg
		})
		resolved = timeDimensionMarkerRe.ReplaceAllStringFunc(resolved, func(marker string) string {
			parts := timeDimensionMarkerRe.FindStringSubmatch(marker)
			expr, dimErr := e.groupByExpr(model, unescapeIdent(parts[1]))
			if dimErr != nil {
				err = dimErr
				return marker
			}
			return grainExpr(expr, parts[2])
		})
		resolved = dimensionMarkerRe.ReplaceAllStringFunc(resolved, func(marker string) string {
			expr, dimErr := e.groupByExpr(model, unescapeIdent(dimensionMarkerRe.FindStringSubmatch(marker)[1]))
			if dimErr != nil {
				err = dimErr
				return marker
			}
			return expr
		})
		if err != nil {
			return nil, nil, err
		}
		if isHaving {
			having = append(having, resolved)
		} else {
			where = append(where, resolved)
		}
	}
	return where, having, nil
}

func unescapeIdent(value string) string {
	return strings.ReplaceAll(value, "''", "'")
}

// splitGrain splits a "<name>__<grain>" field id. The suffix is only treated
// as a grain when it names one of the supported granularities.
func splitGrain(fieldID string) (base, grain string) {
	idx := strings.LastIndex(fieldID, "__")
	if idx < 0 {
		return fieldID, ""
	}
	suffix := strings.ToLower(fieldID[idx+2:])
	if _, ok := grainSet[suffix]; ok {
		return fieldID[:idx], suffix
	}
	return fieldID, ""
}

var grainSet = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, g := range []string{
		"nanosecond", "microsecond", "millisecond", "second", "minute",
		"hour", "day", "week", "month", "quarter", "year",
	} {
		set[g] = struct{}{}
	}
	return set
}()

// Grains returns the supported grain suffixes in a stable order, used by
// callers validating filter units.
func Grains() []string {
	grains := make([]string, 0, len(grainSet))
	for g := range grainSet {
		grains = append(grains, g)
	}
	sort.Strings(grains)
	return grains
}

func (s *SemanticModel) primaryTimeDimension() (*Dimension, bool) {
	for i := range s.Dimensions {
		if s.Dimensions[i].IsTime() {
			return &s.Dimensions[i], true
		}
	}
	return nil, false
}
