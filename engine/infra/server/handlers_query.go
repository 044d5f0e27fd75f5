package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lightdash/metricflow-service/engine/core"
)

func (h *Handlers) createQuery(c *gin.Context) {
	var body createQueryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, core.NewError(core.CodeBadRequest, http.StatusBadRequest,
			"invalid request body: "+err.Error()))
		return
	}
	queryID, err := h.queries.CreateQuery(
		c.Request.Context(),
		c.Param("projectId"),
		body.metricInputs(),
		body.groupByInputs(),
		body.Filters,
		body.orderByInputs(),
		body.Limit,
		body.Async,
	)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, gin.H{"queryId": queryID})
}

func (h *Handlers) getQueryResult(c *gin.Context) {
	result, err := h.queries.GetQueryResult(c.Param("projectId"), c.Param("queryId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

func (h *Handlers) deleteQuery(c *gin.Context) {
	if err := h.queries.DeleteQuery(c.Param("projectId"), c.Param("queryId")); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"deleted": true})
}

func (h *Handlers) compileSQL(c *gin.Context) {
	var body queryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, core.NewError(core.CodeBadRequest, http.StatusBadRequest,
			"invalid request body: "+err.Error()))
		return
	}
	sql, err := h.queries.CompileSQL(
		c.Request.Context(),
		c.Param("projectId"),
		body.metricInputs(),
		body.groupByInputs(),
		body.Filters,
		body.orderByInputs(),
		body.Limit,
	)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"sql": sql})
}

func (h *Handlers) validateQuery(c *gin.Context) {
	var body queryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, core.NewError(core.CodeBadRequest, http.StatusBadRequest,
			"invalid request body: "+err.Error()))
		return
	}
	result := h.queries.ValidateQuery(
		c.Param("projectId"),
		body.metricInputs(),
		body.groupByInputs(),
		body.Filters,
		body.orderByInputs(),
		body.Limit,
	)
	respondData(c, http.StatusOK, result)
}

func (h *Handlers) dimensionValues(c *gin.Context) {
	var body dimensionValuesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, core.NewError(core.CodeBadRequest, http.StatusBadRequest,
			"invalid request body: "+err.Error()))
		return
	}
	if body.Dimension == "" {
		respondError(c, core.NewError(core.CodeValidationError, http.StatusUnprocessableEntity,
			"dimension is required"))
		return
	}
	start, err := parseTimeParam(body.StartTime)
	if err != nil {
		respondError(c, err)
		return
	}
	end, err := parseTimeParam(body.EndTime)
	if err != nil {
		respondError(c, err)
		return
	}
	values, err := h.queries.GetDimensionValues(
		c.Request.Context(), c.Param("projectId"), body.Dimension, body.Metrics, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"values": values})
}

// parseTimeParam accepts RFC3339 timestamps or bare dates.
func parseTimeParam(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, *raw); err == nil {
			return &parsed, nil
		}
	}
	return nil, core.NewError(core.CodeValidationError, http.StatusUnprocessableEntity,
		"invalid timestamp: "+*raw)
}
