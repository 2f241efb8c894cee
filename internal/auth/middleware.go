package auth

import (
	"net/http"
	"time"

	"dialer-realtime/pkg/restapi"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"

// RequireAPIToken verifies the API token carried as `Token token="..."` (or
// Bearer) and injects the claims into the request context.
func RequireAPIToken(m *Manager, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		tok, ok := restapi.ParseAuthorization(c.GetHeader(authorizationHeader))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api token"})
			return
		}

		claims, err := m.Verify(tok, now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		// Also store on gin context for handler convenience.
		c.Set("user_id", claims.UserID)

		c.Next()
	}
}
