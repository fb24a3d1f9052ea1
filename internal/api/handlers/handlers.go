// Package handlers implements the HTTP API of the CropSight server.
package handlers

import (
	"errors"
	"net/http"

	"cropsight/internal/services"

	"github.com/gin-gonic/gin"
)

// respondServiceError maps service layer errors to HTTP responses
func respondServiceError(c *gin.Context, err error) {
	var precondition *services.PreconditionError
	switch {
	case errors.As(err, &precondition):
		c.JSON(http.StatusBadRequest, gin.H{"error": precondition.Reason})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "you do not have permission to access this resource"})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
