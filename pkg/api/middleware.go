package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/trinity-run/trinity/pkg/authz"
)

const identityContextKey = "trinity.identity"

// securityHeaders sets standard security response headers, matching the
// teacher's pkg/api/middleware.go.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// identityMiddleware derives the caller's authz.Identity from
// oauth2-proxy-style forwarded headers, generalizing the teacher's
// extractAuthor (pkg/api/auth.go: X-Forwarded-User > X-Forwarded-Email)
// with a team and a comma-separated role list the teacher's single-actor
// alert UI never needed.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader("X-Forwarded-User")
		if user == "" {
			user = c.GetHeader("X-Forwarded-Email")
		}
		team := c.GetHeader("X-Forwarded-Team")
		var roles []authz.Role
		if raw := c.GetHeader("X-Forwarded-Roles"); raw != "" {
			for _, r := range strings.Split(raw, ",") {
				roles = append(roles, authz.Role(strings.TrimSpace(r)))
			}
		}
		c.Set(identityContextKey, authz.Identity{UserID: user, Team: team, Roles: roles})
		c.Next()
	}
}

// identityFrom retrieves the identity attached by identityMiddleware.
func identityFrom(c *gin.Context) authz.Identity {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return authz.Identity{}
	}
	id, _ := v.(authz.Identity)
	return id
}

// authorize evaluates perm against ref for the request's caller identity.
// It writes a 401 when no identity is present at all and a 403 when
// identity is present but the check fails, returning false either way so
// the handler can return immediately. Returns true when the caller may
// proceed.
func (s *Server) authorize(c *gin.Context, perm authz.Permission, ref authz.ResourceRef) bool {
	id := identityFrom(c)
	if id.UserID == "" {
		respondAuthRequired(c)
		return false
	}
	decision := s.authz.Check(id, perm, ref)
	if !decision.Allowed {
		respondForbidden(c, decision.Reason)
		return false
	}
	return true
}
