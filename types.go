package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the logging contract used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetPasswordCost() int
	GetHashConcurrency() int
}

// UserStore is the credential store consumed by the auth service.
// Lookups return ErrRecordNotFound when nothing matches and Register
// returns ErrEmailInUse when the email is already taken.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Register(ctx context.Context, user *User) (*User, error)
}

// UserStatusUpdater toggles the active flag of a stored user
type UserStatusUpdater interface {
	SetActive(ctx context.Context, id string, active bool) (*User, error)
}

// Notifier delivers out of band messages to users
type Notifier interface {
	SendWelcome(ctx context.Context, user *User) error
}

// PasswordHasher hashes and compares secrets
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Compare(ctx context.Context, password, hash string) error
}

// TokenService signs and verifies bearer tokens
type TokenService interface {
	Sign(subject string) (string, error)
	Verify(token string) (string, error)
}

// IdentityProvider resolves users from credentials or token subjects
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, email, password string) (*User, error)
	FindIdentityByID(ctx context.Context, id string) (*User, error)
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print(format("ERR", msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print(format("WRN", msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print(format("INF", msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print(format("DBG", msg, args...))
}

func format(level, msg string, args ...any) string {
	var b strings.Builder
	b.WriteString("[" + level + "] AUTH " + msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// normalizeLogger falls back to the stdout logger
func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

// DefaultLogger returns the stdout logger used when none is configured
func DefaultLogger() Logger {
	return defLogger{}
}
