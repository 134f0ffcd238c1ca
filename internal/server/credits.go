package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	creditdomain "github.com/smallbiznis/flowline/internal/credit/domain"
	orgdomain "github.com/smallbiznis/flowline/internal/organization/domain"
)

// GrantCredit issues a promotional credit and posts its recognition entry.
func (s *Server) GrantCredit(c *gin.Context) {
	id, ok := identityFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req creditdomain.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.creditSvc.Grant(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// AdjustCredit posts a signed correction. Owner-role keys only.
func (s *Server) AdjustCredit(c *gin.Context) {
	id, ok := identityFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if id.Role != string(orgdomain.RoleOwner) {
		AbortWithError(c, ErrForbidden)
		return
	}

	var req creditdomain.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.creditSvc.Adjust(c.Request.Context(), id, req)
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
