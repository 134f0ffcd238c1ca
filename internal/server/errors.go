package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apikeydomain "github.com/smallbiznis/flowline/internal/apikey/domain"
	creditdomain "github.com/smallbiznis/flowline/internal/credit/domain"
	"github.com/smallbiznis/flowline/internal/identity"
	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	orgdomain "github.com/smallbiznis/flowline/internal/organization/domain"
	"github.com/smallbiznis/flowline/internal/tenancy"
	usagedomain "github.com/smallbiznis/flowline/internal/usage/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrTooManyRequests = errors.New("too_many_requests")
	ErrInvalidRequest  = errors.New("invalid_request")
)

// ErrorHandlingMiddleware turns the last recorded handler error into one
// JSON error body. Handlers that already wrote a response are left alone.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identity.ErrUnauthorized),
		errors.Is(err, identity.ErrNoFocusedMembership),
		errors.Is(err, tenancy.ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, usagedomain.ErrInvalidSubscription),
		errors.Is(err, usagedomain.ErrInvalidMeter),
		errors.Is(err, usagedomain.ErrInvalidAmount),
		errors.Is(err, usagedomain.ErrInvalidIdempotency),
		errors.Is(err, creditdomain.ErrInvalidSubscription),
		errors.Is(err, creditdomain.ErrInvalidMeter),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidAdjustment),
		errors.Is(err, creditdomain.ErrInvalidAccount),
		errors.Is(err, ledgerdomain.ErrInvalidSubscription),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidCredit),
		errors.Is(err, ledgerdomain.ErrInvalidBalanceMode),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidKeyType),
		errors.Is(err, apikeydomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, orgdomain.ErrOrganizationNotFound):
		return true
	default:
		return false
	}
}
