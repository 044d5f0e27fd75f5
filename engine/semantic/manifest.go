package semantic

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------
// Semantic manifest
// -----------------------------------------------------------------------------

// Manifest is the parsed semantic manifest for one project: the metrics,
// dimensions, entities, and semantic models the engine can serve.
type Manifest struct {
	SemanticModels []SemanticModel `json:"semantic_models"`
	Metrics        []Metric        `json:"metrics"`

	metricsByName map[string]*Metric
	modelsByName  map[string]*SemanticModel
}

type SemanticModel struct {
	Name         string       `json:"name"`
	Label        string       `json:"label"`
	Description  string       `json:"description"`
	NodeRelation NodeRelation `json:"node_relation"`
	Entities     []Entity     `json:"entities"`
	Dimensions   []Dimension  `json:"dimensions"`
	Measures     []Measure    `json:"measures"`
}

// NodeRelation locates the warehouse relation backing a semantic model.
type NodeRelation struct {
	Alias        string `json:"alias"`
	SchemaName   string `json:"schema_name"`
	Database     string `json:"database"`
	RelationName string `json:"relation_name"`
}

// Relation returns the SQL-addressable name of the backing relation.
func (n NodeRelation) Relation() string {
	if n.RelationName != "" {
		return n.RelationName
	}
	parts := make([]string, 0, 3)
	if n.Database != "" {
		parts = append(parts, n.Database)
	}
	if n.SchemaName != "" {
		parts = append(parts, n.SchemaName)
	}
	parts = append(parts, n.Alias)
	return strings.Join(parts, ".")
}

type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Expr string `json:"expr"`
}

type Dimension struct {
	Name        string              `json:"name"`
	Label       string              `json:"label"`
	Description string              `json:"description"`
	Type        string              `json:"type"`
	Expr        string              `json:"expr"`
	TypeParams  DimensionTypeParams `json:"type_params"`
}

type DimensionTypeParams struct {
	TimeGranularity string `json:"time_granularity"`
}

// IsTime reports whether the dimension is a time dimension.
func (d Dimension) IsTime() bool {
	return strings.EqualFold(d.Type, "time")
}

// Column returns the SQL expression for the dimension.
func (d Dimension) Column() string {
	if d.Expr != "" {
		return d.Expr
	}
	return d.Name
}

type Measure struct {
	Name string `json:"name"`
	Agg  string `json:"agg"`
	Expr string `json:"expr"`
}

func (m Measure) Column() string {
	if m.Expr != "" {
		return m.Expr
	}
	return m.Name
}

type Metric struct {
	Name        string           `json:"name"`
	Label       string           `json:"label"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
	TypeParams  MetricTypeParams `json:"type_params"`
}

type MetricTypeParams struct {
	Measure MeasureRef `json:"measure"`
}

type MeasureRef struct {
	Name string `json:"name"`
}

// MetricTypeOf maps the manifest's lowercase metric type onto the enum.
func (m Metric) MetricType() MetricType {
	switch strings.ToLower(m.Type) {
	case "ratio":
		return MetricRatio
	case "cumulative":
		return MetricCumulative
	case "derived":
		return MetricDerived
	case "conversion":
		return MetricConversion
	default:
		return MetricSimple
	}
}

// ParseManifest decodes a semantic manifest artifact and indexes it.
func ParseManifest(raw []byte) (*Manifest, error) {
	manifest := &Manifest{}
	if err := json.Unmarshal(raw, manifest); err != nil {
		return nil, fmt.Errorf("failed to decode semantic manifest: %w", err)
	}
	manifest.index()
	return manifest, nil
}

func (m *Manifest) index() {
	m.metricsByName = make(map[string]*Metric, len(m.Metrics))
	for i := range m.Metrics {
		m.metricsByName[m.Metrics[i].Name] = &m.Metrics[i]
	}
	m.modelsByName = make(map[string]*SemanticModel, len(m.SemanticModels))
	for i := range m.SemanticModels {
		m.modelsByName[m.SemanticModels[i].Name] = &m.SemanticModels[i]
	}
}

// Metric looks up a metric by name.
func (m *Manifest) Metric(name string) (*Metric, bool) {
	metric, ok := m.metricsByName[name]
	return metric, ok
}

// Model looks up a semantic model by name.
func (m *Manifest) Model(name string) (*SemanticModel, bool) {
	model, ok := m.modelsByName[name]
	return model, ok
}

// ModelForMeasure returns the semantic model defining the named measure.
func (m *Manifest) ModelForMeasure(measure string) (*SemanticModel, bool) {
	for i := range m.SemanticModels {
		for _, ms := range m.SemanticModels[i].Measures {
			if ms.Name == measure {
				return &m.SemanticModels[i], true
			}
		}
	}
	return nil, false
}

// ModelForMetric resolves the model backing a metric through its measure.
func (m *Manifest) ModelForMetric(metric *Metric) (*SemanticModel, bool) {
	if metric.TypeParams.Measure.Name == "" {
		return nil, false
	}
	return m.ModelForMeasure(metric.TypeParams.Measure.Name)
}

// Dimension finds a dimension by name inside a model.
func (s *SemanticModel) Dimension(name string) (*Dimension, bool) {
	for i := range s.Dimensions {
		if s.Dimensions[i].Name == name {
			return &s.Dimensions[i], true
		}
	}
	return nil, false
}

// EntityNames returns the sorted set of entity names across all models.
func (m *Manifest) EntityNames() map[string]struct{} {
	names := make(map[string]struct{})
	for _, model := range m.SemanticModels {
		for _, entity := range model.Entities {
			if entity.Name != "" {
				names[entity.Name] = struct{}{}
			}
		}
	}
	return names
}

// SortedEntityNames returns the entity names in lexical order, for error
// details.
func (m *Manifest) SortedEntityNames() []string {
	set := m.EntityNames()
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
