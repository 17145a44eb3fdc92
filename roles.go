package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

// UserRole is the user's role
type UserRole string

const (
	// RoleUser is the default role given on registration
	RoleUser UserRole = "USER"
	// RoleAdmin can manage other users
	RoleAdmin UserRole = "ADMIN"
)

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

func (r UserRole) String() string {
	return string(r)
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleUser,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(strings.ToUpper(strings.TrimSpace(roleStr)))
	return role, role.IsValid()
}

// Authorize checks that the user's role is one of allowed. It must only be
// called with a user resolved by the access middleware.
func Authorize(user *User, allowed ...UserRole) error {
	if user == nil {
		return errors.New("role check requires an authenticated user", errors.CategoryInternal).
			WithCode(errors.CodeInternal).
			WithTextCode(TextCodeMissingIdentity)
	}

	for _, role := range allowed {
		if user.Role == role {
			return nil
		}
	}

	return ErrInsufficientRole
}

// RequireRoles returns a handler that lets the request through only when
// the current user holds one of the allowed roles. Mount it after the
// access middleware.
func RequireRoles(allowed ...UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, _ := CurrentUser(c)
		if err := Authorize(user, allowed...); err != nil {
			return err
		}
		return c.Next()
	}
}
