package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	usagedomain "github.com/smallbiznis/flowline/internal/usage/domain"
)

// IngestUsageEvent accepts one usage event. Replays of an idempotency key
// are acknowledged with the original outcome and a 200, never re-charged.
func (s *Server) IngestUsageEvent(c *gin.Context) {
	id, ok := identityFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	endpointResult, err := s.usageLimiter.AllowEndpoint(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !endpointResult.Allowed {
		AbortWithError(c, ErrTooManyRequests)
		return
	}
	orgResult, err := s.usageLimiter.AllowOrg(c.Request.Context(), id.OrgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !orgResult.Allowed {
		c.Header("Retry-After", orgResult.RetryAfter.String())
		AbortWithError(c, ErrTooManyRequests)
		return
	}

	var req usagedomain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.usageSvc.Ingest(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyProcessed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}
