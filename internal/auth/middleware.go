package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rollcall/internal/logger"
)

// CookieName carries the admin token in browsers.
const CookieName = "rollcall_admin"

const principalKey = "admin_principal"

// TokenFromRequest reads the bearer header, falling back to the cookie.
func TokenFromRequest(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > len("bearer ") && strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	if v, err := c.Cookie(CookieName); err == nil {
		return v
	}
	return ""
}

// AdminAuth lets through requests carrying a live admin token and sends
// everyone else back to the dashboard with 303 See Other.
func AdminAuth(sessions *Sessions, redirect string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := sessions.Resolve(c.Request.Context(), TokenFromRequest(c))
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				logger.Error().Err(err).Msg("resolve admin session")
			}
			c.Redirect(http.StatusSeeOther, redirect)
			c.Abort()
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// CurrentAdmin returns the principal set by AdminAuth.
func CurrentAdmin(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
