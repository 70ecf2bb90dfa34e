// Package middleware provides the HTTP middleware chain.
package middleware

import (
	"net/http"
	"strings"

	"aibot-go/internal/service"
	"aibot-go/pkg/database"
	"aibot-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware authenticates the request with a Bearer JWT and stores the
// full member record and claims in the gin context. Blacklisted tokens
// (logged-out sessions) are rejected.
func AuthMiddleware(jwtManager *token.JWTManager, memberService service.MemberService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		if blacklisted, _ := database.RDB.Exists(c.Request.Context(), "blacklist:"+tokenString).Result(); blacklisted > 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has been revoked"})
			return
		}

		member, err := memberService.GetProfile(claims.Username)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "member not found"})
			return
		}

		c.Set("member", member)
		c.Set("claims", claims)
		c.Next()
	}
}
