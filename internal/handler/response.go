package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"followtrader/internal/apperr"
	"followtrader/internal/broker"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail maps domain errors onto HTTP statuses: validation 400, unknown
// resource 404, venue trouble 502, everything else 500.
func Fail(c *gin.Context, err error) {
	switch {
	case apperr.IsValidation(err):
		Error(c, http.StatusBadRequest, err.Error(), nil)
	case apperr.IsNotFound(err):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case broker.IsCredential(err), broker.IsTransient(err), broker.IsVenueReject(err):
		Error(c, http.StatusBadGateway, err.Error(), nil)
	default:
		Error(c, http.StatusInternalServerError, err.Error(), nil)
	}
}
