package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email         string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	FirstName     string     `bun:"first_name,notnull" json:"firstName"`
	LastName      string     `bun:"last_name,notnull" json:"lastName"`
	Role          UserRole   `bun:"user_role,notnull" json:"role"`
	IsActive      bool       `bun:"is_active,notnull" json:"isActive"`
	IsVerified    bool       `bun:"is_verified,notnull" json:"isVerified"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt,omitempty"`
}

// Sanitized returns a copy of the user without the password hash.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.PasswordHash = ""
	return &out
}

// FullName joins first and last name
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NormalizeEmail trims and lower cases an email address so lookups and
// uniqueness checks are case insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func prepareUserDefaults(record *User, now time.Time) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	record.Email = NormalizeEmail(record.Email)

	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}

	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}
