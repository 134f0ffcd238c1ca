package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	creditdomain "github.com/smallbiznis/flowline/internal/credit/domain"
)

// GetAccountBalance returns the on-demand aggregate for one ledger account.
// Mode defaults to posted; ?mode=available returns the conservative figure.
func (s *Server) GetAccountBalance(c *gin.Context) {
	id, ok := identityFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.creditSvc.Balance(c.Request.Context(), id, creditdomain.BalanceRequest{
		AccountID: c.Param("id"),
		Mode:      c.Query("mode"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
