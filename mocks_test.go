package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-auth-server"
)

// MockUserStore implements auth.UserStore and auth.UserStatusUpdater
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUserStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUserStore) Register(ctx context.Context, user *auth.User) (*auth.User, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUserStore) SetActive(ctx context.Context, id string, active bool) (*auth.User, error) {
	args := m.Called(ctx, id, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

// readOnlyStore hides SetActive from the authenticator
type readOnlyStore struct {
	auth.UserStore
}

// MockNotifier implements auth.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendWelcome(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// MockAuthService implements auth.AuthService
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Register(ctx context.Context, msg auth.RegisterUserMessage) (*auth.AuthResult, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AuthResult), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AuthResult), args.Error(1)
}

func (m *MockAuthService) GetByID(ctx context.Context, id string) (*auth.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockAuthService) SetUserStatus(ctx context.Context, actor auth.ActorRef, id string, active bool) (*auth.User, error) {
	args := m.Called(ctx, actor, id, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

// recordingSink keeps every activity event it receives
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Events() []auth.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSink) Types() []auth.ActivityEventType {
	events := r.Events()
	out := make([]auth.ActivityEventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

type testConfig struct {
	SigningKey  string
	Expiration  time.Duration
	Issuer      string
	Audience    []string
	Cost        int
	Concurrency int
}

func newTestConfig() testConfig {
	return testConfig{
		SigningKey: "test-signing-key",
		Expiration: time.Hour,
		Issuer:     "auth-test",
		Cost:       bcrypt.MinCost,
	}
}

func (c testConfig) GetSigningKey() string              { return c.SigningKey }
func (c testConfig) GetTokenExpiration() time.Duration { return c.Expiration }
func (c testConfig) GetIssuer() string                  { return c.Issuer }
func (c testConfig) GetAudience() []string              { return c.Audience }
func (c testConfig) GetPasswordCost() int               { return c.Cost }
func (c testConfig) GetHashConcurrency() int            { return c.Concurrency }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// captureLogger records messages by level
type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	Level string
	Msg   string
	Args  []any
}

func (c *captureLogger) log(level, msg string, args []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, logEntry{Level: level, Msg: msg, Args: args})
}

func (c *captureLogger) Debug(msg string, args ...any) { c.log("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.log("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.log("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.log("error", msg, args) }

func (c *captureLogger) Messages(level string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.entries {
		if e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}

func hashFor(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}
