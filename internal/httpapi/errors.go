package httpapi

import (
	"context"
	"errors"
	"net/http"

	"djtips-platform/internal/catalog"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/reporting"
	"djtips-platform/internal/store"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors onto status codes. Messages of 5xx errors
// are not echoed; the request logger records them through c.Error.
func writeError(c *gin.Context, err error) {
	var funds *domain.InsufficientFundsError
	var dup *domain.DuplicateRequestError

	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnauthenticated):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	case errors.Is(err, domain.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.As(err, &funds):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":           "insufficient funds",
			"balance_minor":   funds.Balance,
			"requested_minor": funds.Requested,
		})
	case errors.As(err, &dup):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request", "existing_id": dup.ExistingID})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, catalog.ErrTrackNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrAlreadyProcessed):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already processed"})
	case errors.Is(err, store.ErrConflict):
		_ = c.Error(err)
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "busy, retry"})
	case errors.Is(err, domain.ErrGateway):
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
	case errors.Is(err, context.DeadlineExceeded):
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "timeout"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
