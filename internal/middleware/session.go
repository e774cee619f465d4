package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionIDKey is the gin context key holding the console session id.
const SessionIDKey = "sessionID"

type SessionConfig struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// SessionMiddleware makes sure every request carries a console session id,
// issuing a new cookie when the browser has none or a malformed one.
func SessionMiddleware(cfg SessionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(cfg.CookieName)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
		}

		// refresh on every request so the cookie lives as long as the stored state
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cfg.CookieName, id, int(cfg.TTL.Seconds()), "/", "", cfg.Secure, true)

		c.Set(SessionIDKey, id)
		c.Next()
	}
}

// SessionID returns the id set by SessionMiddleware.
func SessionID(c *gin.Context) (string, bool) {
	id := c.GetString(SessionIDKey)
	return id, id != ""
}
