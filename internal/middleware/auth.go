package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor-realtime/internal/authcache"
)

// Context keys set by the auth middleware.
const (
	ContextPrincipal = "principal"
	ContextRecord    = "token_record"
)

// BearerProtocolPrefix marks the subprotocol entry browsers smuggle the token
// in, since the browser WebSocket API cannot set an Authorization header.
const BearerProtocolPrefix = "bearer."

// ExtractCredential pulls the bearer credential from the request, checking
// the Authorization header, the token query parameter, and the
// Sec-WebSocket-Protocol list in that order.
func ExtractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	for _, proto := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, entry := range strings.Split(proto, ",") {
			entry = strings.TrimSpace(entry)
			if token, ok := strings.CutPrefix(entry, BearerProtocolPrefix); ok {
				return token
			}
		}
	}
	return ""
}

// TokenAuth validates the request's bearer credential through the auth cache
// and attaches the resulting principal to the context. Invalid or missing
// credentials are rejected with 401; validator outages are reported as 503
// rather than silently accepted.
func TokenAuth(auth *authcache.TokenAuthCache, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := ExtractCredential(c.Request)
		if credential == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}

		record, err := auth.Validate(c.Request.Context(), credential)
		if err != nil {
			if errors.Is(err, authcache.ErrAuthFailed) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
				return
			}
			logger.WithError(err).Error("Credential validation unavailable")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "validation unavailable"})
			return
		}

		c.Set(ContextRecord, record)
		c.Set(ContextPrincipal, record.Principal())
		c.Next()
	}
}
