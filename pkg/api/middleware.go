package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dskvich/character-chat/pkg/api/response"
	"github.com/dskvich/character-chat/pkg/auth"
	"github.com/dskvich/character-chat/pkg/logger"
)

const headerRequestID = "X-Request-Id"

type Authenticator interface {
	UserID(token string) (string, error)
}

// requestID tags the request context so every log line of a request carries
// the same id.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), reqID))
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "Handled request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}

func requireAuth(authenticator Authenticator) gin.HandlerFunc {
	writer := response.JSONResponseWriter{}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) <= 7 || !strings.EqualFold(header[:7], "Bearer ") {
			writer.WriteErrorResponse(c.Writer, http.StatusUnauthorized, "Missing authorization header")
			c.Abort()
			return
		}

		userID, err := authenticator.UserID(header[7:])
		if err != nil {
			slog.WarnContext(c.Request.Context(), "Unauthorized request", logger.Err(err))
			writer.WriteErrorResponse(c.Writer, http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(auth.ContextWithUserID(c.Request.Context(), userID))
		c.Next()
	}
}
