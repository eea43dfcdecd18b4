package delivery

import (
	"net/http"
	"strings"

	authdomain "dmsync-backend/internal/auth/domain"
	"dmsync-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding *authdomain.ServiceClaims.
const ClaimsKey = "claims"

// AuthMiddleware requires a valid service token. A nil usecase disables the check.
func AuthMiddleware(authUsecase usecase.AuthUsecase) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authUsecase == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authUsecase.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// AccountScope rejects callers whose token is bound to a different account than
// the :account_id route parameter.
func AccountScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ClaimsKey)
		if !exists {
			c.Next()
			return
		}
		claims, ok := value.(*authdomain.ServiceClaims)
		if !ok || !claims.Allows(c.Param("account_id")) {
			c.JSON(http.StatusForbidden, gin.H{"error": "token not valid for this account"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminOnly requires an admin-scoped token when auth is enabled.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ClaimsKey)
		if !exists {
			c.Next()
			return
		}
		claims, ok := value.(*authdomain.ServiceClaims)
		if !ok || claims.Scope != authdomain.ScopeAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin token required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
