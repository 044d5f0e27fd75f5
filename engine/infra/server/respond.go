package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/pkg/logger"
)

// envelope is the uniform response shape: exactly one of data or error is
// present, flagged by ok.
type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{OK: true, Data: data})
}

func respondError(c *gin.Context, err error) {
	coreErr := core.AsError(err)
	if coreErr.Status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed",
			"code", coreErr.Code.String(), "error", err)
	}
	c.JSON(coreErr.Status, envelope{OK: false, Error: &errorBody{
		Code:    coreErr.Code.String(),
		Message: coreErr.Message,
		Details: coreErr.Details,
	}})
}
