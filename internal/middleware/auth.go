package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/JulianCR82/agenda-backend/internal/auth"
	"github.com/JulianCR82/agenda-backend/internal/models"
	"github.com/JulianCR82/agenda-backend/pkg/errors"
	"github.com/JulianCR82/agenda-backend/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
	CtxRoleKey   = "userRole"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxRoleKey, claims.Role)

		c.Next()
	}
}

// RequireRole restricts a route to callers holding the given role. It must run
// after Auth so the role claim is present in the request context.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxRoleKey) != role {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireTeacher is shorthand for RequireRole(models.RoleTeacher).
func RequireTeacher() gin.HandlerFunc {
	return RequireRole(models.RoleTeacher)
}

// RequireStudent is shorthand for RequireRole(models.RoleStudent).
func RequireStudent() gin.HandlerFunc {
	return RequireRole(models.RoleStudent)
}
