package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/meal-voucher-api/internal/service"
)

// ClientInfo copies the caller address and user agent onto the request context so
// audit entries written deeper in the stack can name the caller.
func ClientInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithClientInfo(c.Request.Context(), c.ClientIP(), c.GetHeader("User-Agent"))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
