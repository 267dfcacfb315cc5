package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parallax-research/parallax/pkg/research"
	"github.com/parallax-research/parallax/pkg/store"
)

// respondError maps domain errors to HTTP error responses.
func respondError(c *gin.Context, err error) {
	var validErr *research.ValidationError
	switch {
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validErr.Error(), "category": research.CategoryValidation,
		})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "resource not found", "category": "not_found",
		})
	case errors.Is(err, store.ErrOverloaded):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "queue overloaded, retry later", "category": "overloaded",
		})
	case errors.Is(err, store.ErrReadOnlyViolation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(), "category": research.CategoryValidation,
		})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error": "request timed out", "category": research.CategoryTimeout,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"error": "request canceled", "category": research.CategoryCanceled,
		})
	default:
		slog.Error("Unexpected handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "internal server error", "category": research.CategoryInternal,
		})
	}
}
