package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classpoint/proctor-backend/internal/response"
	"github.com/classpoint/proctor-backend/internal/service"
)

// CheckSingleDeviceLogin validates the JWT's JTI against the active login
// in Redis. A mismatch means the login was superseded or invalidated.
func CheckSingleDeviceLogin(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		// Only enforced for student tokens.
		if claims.TokenType != service.TokenTypeStudent {
			c.Next()
			return
		}

		if err := authService.ValidateStudentLogin(c.Request.Context(), claims.UserID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrLoginInvalidated)
			return
		}

		c.Next()
	}
}
