package middleware

import (
	"net/http"

	"github.com/assesshub/assess-backend/internal/response"
	"github.com/assesshub/assess-backend/internal/service"
	"github.com/gin-gonic/gin"
)

// CheckSingleDeviceSession rejects student tokens whose JTI no longer owns
// the Redis session slot: the student logged in on another device, logged
// out, or the slot expired. Runs after RequireStudentJWT. Instructor tokens
// pass through untouched.
func CheckSingleDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.TokenType != service.TokenTypeStudent {
			c.Next()
			return
		}

		if err := authService.ValidateStudentSession(c.Request.Context(), claims.UserID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}
		c.Next()
	}
}
