package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/rclonehub/rclonehub/internal/store"
)

const apiTokenHashKey = "api_token_hash"

// AuthGuard checks a bearer token against a bcrypt hash persisted at
// rest, re-targeted from the teacher's auth.go cookie/session login
// flow to a single shared-secret check suitable for a JSON API: no
// login page, no HMAC-signed cookie, just `Authorization: Bearer
// <token>` compared against the configured secret's hash. If no token
// was ever configured the guard is a no-op (local/dev use).
type AuthGuard struct {
	st *store.Store
}

// NewAuthGuard builds a guard and, if token is non-empty, persists its
// bcrypt hash the first time it differs from whatever is stored (so a
// changed HUB_API_TOKEN in the environment rotates the stored hash on
// next boot).
func NewAuthGuard(ctx context.Context, st *store.Store, token string) (*AuthGuard, error) {
	g := &AuthGuard{st: st}
	token = strings.TrimSpace(token)
	if token == "" {
		return g, nil
	}
	existing, err := st.MustSetting(ctx, apiTokenHashKey)
	if err == nil && existing != "" && bcrypt.CompareHashAndPassword([]byte(existing), []byte(token)) == nil {
		return g, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if err := st.SetSetting(ctx, apiTokenHashKey, string(hash)); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *AuthGuard) enabled(ctx context.Context) (string, bool) {
	hash, err := g.st.MustSetting(ctx, apiTokenHashKey)
	if err != nil || strings.TrimSpace(hash) == "" {
		return "", false
	}
	return hash, true
}

// Middleware rejects any request lacking a matching bearer token, once
// a token has been configured. Requests pass through untouched when no
// token is configured at all.
func (g *AuthGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		hash, ok := g.enabled(c.Request.Context())
		if !ok {
			c.Next()
			return
		}
		presented := bearerToken(c.GetHeader("Authorization"))
		if presented == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) != nil {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
