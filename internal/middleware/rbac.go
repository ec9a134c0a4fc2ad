package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/meal-voucher-api/internal/models"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
	"github.com/noah-isme/meal-voucher-api/pkg/response"
)

// RequireRoles admits callers holding one of the roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequirePermission admits administrators and callers granted any of the permissions.
func RequirePermission(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if isAdmin(claims.Role) || grantsAny(claims.Permissions, permissions) {
			c.Next()
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "missing permission"))
		c.Abort()
	}
}

func isAdmin(role models.UserRole) bool {
	return role == models.RoleSuperAdmin || role == models.RoleAdmin
}

func grantsAny(granted, wanted []string) bool {
	for _, g := range granted {
		for _, w := range wanted {
			if g == w {
				return true
			}
		}
	}
	return false
}
