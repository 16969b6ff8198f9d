package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/weblink-backend/internal/http/response"
	"github.com/yungbote/weblink-backend/internal/platform/apierr"
)

const (
	headerUserID = "X-User-Id"
	ctxUserID    = "user_id"
)

var errMissingUser = errors.New("X-User-Id header is required")

// RequireUser rejects requests without the X-User-Id header. The gateway in front
// of this service authenticates callers and sets it.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerUserID))
		if id == "" {
			response.RespondErr(c, apierr.New(http.StatusUnauthorized, "missing_user", errMissingUser))
			c.Abort()
			return
		}
		c.Set(ctxUserID, id)
		if td := traceData(c); td != nil {
			td.UserID = id
		}
		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("enduser.id", id))
		c.Next()
	}
}

// UserID returns the id stored by RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
