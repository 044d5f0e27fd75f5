package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// listParam reads a repeated query parameter, also accepting one
// comma-separated value.
func listParam(c *gin.Context, name string) []string {
	raw := c.QueryArray(name)
	if len(raw) == 1 && strings.Contains(raw[0], ",") {
		raw = strings.Split(raw[0], ",")
	}
	values := make([]string, 0, len(raw))
	for _, value := range raw {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func (h *Handlers) listMetrics(c *gin.Context) {
	metrics, err := h.queries.ListMetrics(c.Param("projectId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"metrics": metrics})
}

func (h *Handlers) listDimensions(c *gin.Context) {
	dimensions, err := h.queries.ListDimensions(c.Param("projectId"), listParam(c, "metrics"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"dimensions": dimensions})
}

func (h *Handlers) listSemanticModels(c *gin.Context) {
	models, err := h.queries.ListSemanticModels(c.Param("projectId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"semanticModels": models})
}

func (h *Handlers) metricsForDimensions(c *gin.Context) {
	metrics, err := h.queries.MetricsForDimensions(c.Param("projectId"), listParam(c, "dimensions"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"metrics": metrics})
}
