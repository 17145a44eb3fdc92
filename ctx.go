package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// DefaultContextKey is the fiber locals key the access middleware stores
// the current user under.
const DefaultContextKey = "user"

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// SetCurrentUser attaches the user to both the request locals and the
// request's user context.
func SetCurrentUser(c *fiber.Ctx, key string, user *User) {
	if key == "" {
		key = DefaultContextKey
	}
	c.Locals(key, user)
	c.SetUserContext(WithContext(c.UserContext(), user))
}

// CurrentUser returns the user resolved for this request, if any.
func CurrentUser(c *fiber.Ctx) (*User, bool) {
	return FromContext(c.UserContext())
}
