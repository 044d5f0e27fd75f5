package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lightdash/metricflow-service/engine/core"
)

func (h *Handlers) triggerBuild(c *gin.Context) {
	var body triggerBuildBody
	// An empty body is a valid trigger on the default ref.
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, core.NewError(core.CodeBadRequest, http.StatusBadRequest,
			"invalid request body: "+err.Error()))
		return
	}
	record, err := h.builds.TriggerBuild(c.Param("projectId"), body.ref(), body.forceRecompile())
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusAccepted, record)
}

func (h *Handlers) getBuildStatus(c *gin.Context) {
	record, err := h.builds.GetBuildStatus(c.Param("projectId"), c.Param("buildId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, record)
}

func (h *Handlers) listBuilds(c *gin.Context) {
	records, err := h.builds.ListBuilds(c.Param("projectId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"builds": records})
}
