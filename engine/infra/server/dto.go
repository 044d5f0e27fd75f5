package server

import (
	"encoding/json"
	"strings"

	"github.com/lightdash/metricflow-service/engine/filter"
	"github.com/lightdash/metricflow-service/engine/query"
	"github.com/lightdash/metricflow-service/engine/semantic"
)

// -----------------------------------------------------------------------------
// Query inputs
// -----------------------------------------------------------------------------

// metricDTO accepts either "revenue" or {"name": "revenue"}.
type metricDTO struct {
	Name string `json:"name"`
}

func (m *metricDTO) UnmarshalJSON(raw []byte) error {
	if len(raw) > 0 && raw[0] == '"' {
		return json.Unmarshal(raw, &m.Name)
	}
	type plain metricDTO
	var p plain
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	*m = metricDTO(p)
	return nil
}

// groupByDTO accepts "order_date", {"name": "order_date"}, or
// {"name": "order_date", "grain": "month"}.
type groupByDTO struct {
	Name  string  `json:"name"`
	Grain *string `json:"grain"`
}

func (g *groupByDTO) UnmarshalJSON(raw []byte) error {
	if len(raw) > 0 && raw[0] == '"' {
		return json.Unmarshal(raw, &g.Name)
	}
	type plain groupByDTO
	var p plain
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	*g = groupByDTO(p)
	return nil
}

type orderByDTO struct {
	Descending bool        `json:"descending"`
	Desc       bool        `json:"desc"`
	Metric     *metricDTO  `json:"metric"`
	GroupBy    *groupByDTO `json:"groupBy"`
}

// queryBody is the shared body of create, compile, and validate. Snake_case
// aliases are accepted alongside camelCase.
type queryBody struct {
	Metrics      []metricDTO     `json:"metrics"`
	GroupBy      []groupByDTO    `json:"groupBy"`
	GroupBySnake []groupByDTO    `json:"group_by"`
	Filters      *filter.Filters `json:"filters"`
	OrderBy      []orderByDTO    `json:"orderBy"`
	OrderBySnake []orderByDTO    `json:"order_by"`
	Limit        *int            `json:"limit"`
}

type createQueryBody struct {
	queryBody
	Async bool `json:"async"`
}

func (b *queryBody) metricInputs() []query.MetricInput {
	metrics := make([]query.MetricInput, len(b.Metrics))
	for i, m := range b.Metrics {
		metrics[i] = query.MetricInput{Name: m.Name}
	}
	return metrics
}

func (b *queryBody) groupByInputs() []query.GroupByInput {
	raw := b.GroupBy
	if len(raw) == 0 {
		raw = b.GroupBySnake
	}
	groupBy := make([]query.GroupByInput, len(raw))
	for i, g := range raw {
		groupBy[i] = query.GroupByInput{Name: g.Name, Grain: parseGrain(g.Grain)}
	}
	return groupBy
}

func (b *queryBody) orderByInputs() []query.OrderByInput {
	raw := b.OrderBy
	if len(raw) == 0 {
		raw = b.OrderBySnake
	}
	orderBy := make([]query.OrderByInput, len(raw))
	for i, o := range raw {
		item := query.OrderByInput{Descending: o.Descending || o.Desc}
		if o.Metric != nil {
			item.Metric = &query.MetricInput{Name: o.Metric.Name}
		}
		if o.GroupBy != nil {
			item.GroupBy = &query.GroupByInput{
				Name:  o.GroupBy.Name,
				Grain: parseGrain(o.GroupBy.Grain),
			}
		}
		orderBy[i] = item
	}
	return orderBy
}

func parseGrain(raw *string) *semantic.TimeGranularity {
	if raw == nil || *raw == "" {
		return nil
	}
	grain := semantic.TimeGranularity(strings.ToUpper(*raw))
	return &grain
}

// -----------------------------------------------------------------------------
// Other inputs
// -----------------------------------------------------------------------------

type dimensionValuesBody struct {
	Dimension string   `json:"dimension"`
	Metrics   []string `json:"metrics"`
	StartTime *string  `json:"startTime"`
	EndTime   *string  `json:"endTime"`
}

type triggerBuildBody struct {
	GitRef              string `json:"gitRef"`
	GitRefSnake         string `json:"git_ref"`
	Branch              string `json:"branch"`
	ForceRecompile      bool   `json:"forceRecompile"`
	ForceRecompileSnake bool   `json:"force_recompile"`
}

func (b *triggerBuildBody) ref() string {
	if b.GitRef != "" {
		return b.GitRef
	}
	if b.GitRefSnake != "" {
		return b.GitRefSnake
	}
	return b.Branch
}

func (b *triggerBuildBody) forceRecompile() bool {
	return b.ForceRecompile || b.ForceRecompileSnake
}
