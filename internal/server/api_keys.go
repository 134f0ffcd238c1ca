package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apikeydomain "github.com/smallbiznis/flowline/internal/apikey/domain"
	"github.com/smallbiznis/flowline/pkg/db/pagination"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	keys, err := s.apiKeySvc.List(c.Request.Context(), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

// CreateAPIKey mints a new key. The raw token appears in this response only;
// the database keeps the hash.
func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	key, err := s.apiKeySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, key)
}

func (s *Server) RotateAPIKey(c *gin.Context) {
	key, err := s.apiKeySvc.Rotate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	if err := s.apiKeySvc.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
