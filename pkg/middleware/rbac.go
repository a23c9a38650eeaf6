package middleware

import (
	"booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/jwt"
	"booking-inbox/client/pkg/session"

	"github.com/gin-gonic/gin"
)

// IdentitySource yields the signed-in identity, usually the session store
type IdentitySource interface {
	Identity() (session.Identity, bool)
}

const identityKey = "identity"

// SessionMiddleware exposes the current identity to handlers and later
// middleware. Requests without a session pass through untouched.
func SessionMiddleware(source IdentitySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity, ok := source.Identity(); ok {
			c.Set(identityKey, identity)
			c.Set("userID", identity.ID)
			c.Set("userRole", identity.Role)
			c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), identity.ID))
		}
		c.Next()
	}
}

// CurrentIdentity returns the identity stored by SessionMiddleware
func CurrentIdentity(c *gin.Context) (session.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return session.Identity{}, false
	}
	identity, ok := v.(session.Identity)
	return identity, ok
}

// RequireSession aborts requests made without a signed-in identity
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentIdentity(c); !ok {
			c.Error(errors.ErrNoToken)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole returns a middleware that requires the user to have a specific role
func RequireRole(role jwt.Role) gin.HandlerFunc {
	return RequireAnyRole(role)
}

// RequireAnyRole returns middleware that requires the user to have at least one of the specified roles
func RequireAnyRole(roles ...jwt.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
			c.Abort()
			return
		}

		for _, role := range roles {
			if identity.Role == role {
				c.Next()
				return
			}
		}

		c.Error(errors.NewForbiddenError("INSUFFICIENT_ROLE", "Your role does not allow this operation"))
		c.Abort()
	}
}
