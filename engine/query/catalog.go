package query

import (
	"net/http"
	"sort"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/engine/semantic"
)

// metricTimeName is the virtual time dimension every model with a primary
// time dimension exposes.
const metricTimeName = "metric_time"

const metricTimeLabel = "Date"

// -----------------------------------------------------------------------------
// DTO assembly
// -----------------------------------------------------------------------------

func modelDTO(model *semantic.SemanticModel) semantic.SemanticModelDTO {
	return semantic.SemanticModelDTO{
		Name:        model.Name,
		Label:       model.Label,
		Description: model.Description,
	}
}

func dimensionDTO(model *semantic.SemanticModel, dim *semantic.Dimension) semantic.DimensionDTO {
	dto := semantic.DimensionDTO{
		Name:                   dim.Name,
		Description:            dim.Description,
		Label:                  dim.Label,
		Type:                   semantic.DimensionCategorical,
		QueryableGranularities: []semantic.TimeGranularity{},
	}
	if dim.IsTime() {
		dto.Type = semantic.DimensionTime
		dto.QueryableGranularities = semantic.QueryableGranularities
	}
	if model != nil {
		ref := modelDTO(model)
		dto.SemanticModel = &ref
	}
	return dto
}

func metricTimeDTO(model *semantic.SemanticModel) semantic.DimensionDTO {
	dto := semantic.DimensionDTO{
		Name:                   metricTimeName,
		Label:                  metricTimeLabel,
		Type:                   semantic.DimensionTime,
		QueryableGranularities: semantic.QueryableGranularities,
	}
	if model != nil {
		ref := modelDTO(model)
		dto.SemanticModel = &ref
	}
	return dto
}

func hasTimeDimension(model *semantic.SemanticModel) bool {
	for i := range model.Dimensions {
		if model.Dimensions[i].IsTime() {
			return true
		}
	}
	return false
}

func modelDimensions(model *semantic.SemanticModel) []semantic.DimensionDTO {
	dims := make([]semantic.DimensionDTO, 0, len(model.Dimensions)+1)
	if hasTimeDimension(model) {
		dims = append(dims, metricTimeDTO(model))
	}
	for i := range model.Dimensions {
		dims = append(dims, dimensionDTO(model, &model.Dimensions[i]))
	}
	return dims
}

// -----------------------------------------------------------------------------
// Catalog operations
// -----------------------------------------------------------------------------

// ListMetrics returns every metric with its dimensions and backing models,
// sorted by name.
func (s *Service) ListMetrics(projectID string) ([]semantic.MetricDTO, error) {
	engine, err := s.engines.GetEngine(projectID)
	if err != nil {
		return nil, err
	}
	manifest := engine.Manifest()
	metrics := make([]semantic.MetricDTO, 0, len(manifest.Metrics))
	for i := range manifest.Metrics {
		metric := &manifest.Metrics[i]
		dto := semantic.MetricDTO{
			Name:                   metric.Name,
			Description:            metric.Description,
			Label:                  metric.Label,
			Type:                   metric.MetricType(),
			QueryableGranularities: []semantic.TimeGranularity{},
			Dimensions:             []semantic.DimensionDTO{},
			SemanticModels:         []semantic.SemanticModelDTO{},
		}
		if model, ok := manifest.ModelForMetric(metric); ok {
			dto.Dimensions = modelDimensions(model)
			dto.SemanticModels = []semantic.SemanticModelDTO{modelDTO(model)}
			if hasTimeDimension(model) {
				dto.QueryableGranularities = semantic.QueryableGranularities
			}
		}
		metrics = append(metrics, dto)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	return metrics, nil
}

// ListDimensions returns the dimensions reachable from the given metrics, or
// from every model when no metrics are named. Dimensions are deduplicated by
// name, first definition wins.
func (s *Service) ListDimensions(projectID string, metricNames []string) ([]semantic.DimensionDTO, error) {
	engine, err := s.engines.GetEngine(projectID)
	if err != nil {
		return nil, err
	}
	manifest := engine.Manifest()
	models := make([]*semantic.SemanticModel, 0, len(manifest.SemanticModels))
	if len(metricNames) == 0 {
		for i := range manifest.SemanticModels {
			models = append(models, &manifest.SemanticModels[i])
		}
	} else {
		seen := make(map[string]struct{})
		for _, name := range metricNames {
			metric, ok := manifest.Metric(name)
			if !ok {
				return nil, core.NewError(core.CodeMetricNotFound, http.StatusNotFound,
					"unknown metric: "+name)
			}
			model, ok := manifest.ModelForMetric(metric)
			if !ok {
				continue
			}
			if _, dup := seen[model.Name]; dup {
				continue
			}
			seen[model.Name] = struct{}{}
			models = append(models, model)
		}
	}

	byName := make(map[string]struct{})
	dims := make([]semantic.DimensionDTO, 0)
	for _, model := range models {
		for _, dto := range modelDimensions(model) {
			if _, dup := byName[dto.Name]; dup {
				continue
			}
			byName[dto.Name] = struct{}{}
			dims = append(dims, dto)
		}
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i].Name < dims[j].Name })
	return dims, nil
}

// ListSemanticModels returns every model with its metrics and dimensions,
// sorted by name.
func (s *Service) ListSemanticModels(projectID string) ([]semantic.SemanticModelDetailDTO, error) {
	engine, err := s.engines.GetEngine(projectID)
	if err != nil {
		return nil, err
	}
	manifest := engine.Manifest()
	details := make([]semantic.SemanticModelDetailDTO, 0, len(manifest.SemanticModels))
	for i := range manifest.SemanticModels {
		model := &manifest.SemanticModels[i]
		detail := semantic.SemanticModelDetailDTO{
			Name:        model.Name,
			Label:       model.Label,
			Description: model.Description,
			Metrics:     []semantic.MetricSummaryDTO{},
			Dimensions:  modelDimensions(model),
		}
		for j := range manifest.Metrics {
			metric := &manifest.Metrics[j]
			backing, ok := manifest.ModelForMetric(metric)
			if !ok || backing.Name != model.Name {
				continue
			}
			detail.Metrics = append(detail.Metrics, semantic.MetricSummaryDTO{
				Name:        metric.Name,
				Description: metric.Description,
				Label:       metric.Label,
				Type:        metric.MetricType(),
			})
		}
		sort.Slice(detail.Metrics, func(a, b int) bool {
			return detail.Metrics[a].Name < detail.Metrics[b].Name
		})
		details = append(details, detail)
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Name < details[j].Name })
	return details, nil
}

// MetricsForDimensions returns the metrics whose backing model exposes every
// named dimension. The virtual metric_time dimension is satisfied by any
// model with a time dimension.
func (s *Service) MetricsForDimensions(projectID string, dimensionNames []string) ([]semantic.MetricSummaryDTO, error) {
	engine, err := s.engines.GetEngine(projectID)
	if err != nil {
		return nil, err
	}
	manifest := engine.Manifest()
	metrics := make([]semantic.MetricSummaryDTO, 0)
	for i := range manifest.Metrics {
		metric := &manifest.Metrics[i]
		model, ok := manifest.ModelForMetric(metric)
		if !ok {
			continue
		}
		if !modelCovers(model, dimensionNames) {
			continue
		}
		metrics = append(metrics, semantic.MetricSummaryDTO{
			Name:        metric.Name,
			Description: metric.Description,
			Label:       metric.Label,
			Type:        metric.MetricType(),
		})
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	return metrics, nil
}

func modelCovers(model *semantic.SemanticModel, dimensionNames []string) bool {
	for _, name := range dimensionNames {
		if name == metricTimeName {
			if !hasTimeDimension(model) {
				return false
			}
			continue
		}
		if _, ok := model.Dimension(name); !ok {
			return false
		}
	}
	return true
}
