package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetOrganization returns the tenant the presented API key belongs to.
func (s *Server) GetOrganization(c *gin.Context) {
	id, ok := identityFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	org, err := s.orgSvc.GetByID(c.Request.Context(), id.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}
