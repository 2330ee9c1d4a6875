package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"simcloud/internal/session"
)

var ErrInvalidRequest = errors.New("invalid request")

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func respondErrorWithDetails(c *gin.Context, code int, err error, details string) {
	c.JSON(code, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Details: details,
	})
}

// mapSessionError turns a service error into a status code.
func mapSessionError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidSession):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
