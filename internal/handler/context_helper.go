package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/meal-voucher-api/internal/middleware"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
	"github.com/noah-isme/meal-voucher-api/pkg/response"
)

// IdempotencyHeader carries the client key that makes create calls replay-safe.
const IdempotencyHeader = "Idempotency-Key"

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.CurrentClaims(c)
}

// sessionFromContext writes a 401 and returns nil when the request carries no claims.
func sessionFromContext(c *gin.Context) *models.ActorSession {
	session := models.SessionFromClaims(claimsFromContext(c))
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return session
}

// bindJSON decodes the body into dest, writing a 400 on failure.
func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

// respond writes data with any metadata collected on the request.
func respond(c *gin.Context, status int, data interface{}, pagination *models.Pagination) {
	response.JSON(c, status, data, pagination, middleware.ExtractMeta(c))
}
