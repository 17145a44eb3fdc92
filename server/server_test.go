package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-auth-server"
	"github.com/goliatone/go-auth-server/config"
	"github.com/goliatone/go-auth-server/metrics"
	"github.com/goliatone/go-auth-server/server"
)

const testSecret = "test-secret-for-the-auth-server-suite"

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  json.RawMessage `json:"errors"`
}

type authData struct {
	User  auth.User `json:"user"`
	Token string    `json:"token"`
}

type testEnv struct {
	app    *fiber.App
	auther *auth.Auther
	cfg    *config.Config
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := config.Defaults()
	cfg.App.Env = config.EnvTest
	cfg.Auth.SigningKey = testSecret
	cfg.Auth.PasswordCost = bcrypt.MinCost
	cfg.Database.URL = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	for _, fn := range mutate {
		fn(cfg)
	}
	require.NoError(t, cfg.Validate())

	db, err := server.OpenDatabase(ctx, cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := auth.NewRepositoryManager(db)
	require.NoError(t, repo.RunMigrations(ctx))

	m := metrics.NewMetrics(cfg.Metrics.Namespace)

	auther := auth.NewAuthenticator(repo.Users(), cfg.Auth).
		WithLogger(nopLogger{}).
		WithActivitySink(m)

	app, err := server.New(server.Options{
		Config:  cfg,
		Auther:  auther,
		Metrics: m,
		Logger:  nopLogger{},
	})
	require.NoError(t, err)

	return &testEnv{app: app, auther: auther, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.Contains(resp.Header.Get(fiber.HeaderContentType), "json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}

	return resp, env
}

func (e *testEnv) register(t *testing.T, email, password string) authData {
	t.Helper()
	resp, env := e.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":     email,
		"password":  password,
		"firstName": "Jane",
		"lastName":  "Doe",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Message)

	var data authData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

func (e *testEnv) login(t *testing.T, email, password string) (*http.Response, envelope) {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
}

func TestStatusRoute(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/status", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	assert.Equal(t, http.StatusOK, body.Code)

	var data map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, config.EnvTest, data["environment"])
	assert.NotEmpty(t, data["timestamp"])

	assert.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/non-existent-route", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, body.Success)
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.Equal(t, "Cannot find /api/non-existent-route on this server", body.Message)
}

func TestRegisterThenMe(t *testing.T) {
	env := newTestEnv(t)

	data := env.register(t, "  Jane@Example.com ", "password123")
	assert.NotEmpty(t, data.Token)
	assert.Equal(t, "jane@example.com", data.User.Email)
	assert.Equal(t, auth.RoleUser, data.User.Role)
	assert.True(t, data.User.IsActive)
	assert.Empty(t, data.User.PasswordHash)

	resp, body := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, data.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)

	var me struct {
		User auth.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &me))
	assert.Equal(t, data.User.ID, me.User.ID)
	assert.NotContains(t, string(body.Data), "password")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, "dup@example.com", "password123")

	resp, body := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":     "DUP@example.com",
		"password":  "password456",
		"firstName": "Other",
		"lastName":  "Person",
	}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Email already in use", body.Message)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "not-an-email",
		"password": "short",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Validation failed", body.Message)

	var fields []auth.FieldError
	require.NoError(t, json.Unmarshal(body.Errors, &fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	assert.ElementsMatch(t, []string{"email", "password", "firstName", "lastName"}, names)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "known@example.com", "password123")

	wrongResp, wrongBody := env.login(t, "known@example.com", "not-the-password")
	unknownResp, unknownBody := env.login(t, "unknown@example.com", "password123")

	assert.Equal(t, http.StatusUnauthorized, wrongResp.StatusCode)
	assert.Equal(t, wrongResp.StatusCode, unknownResp.StatusCode)
	assert.Equal(t, "Invalid email or password", wrongBody.Message)
	assert.Equal(t, wrongBody, unknownBody)
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "login@example.com", "password123")

	resp, body := env.login(t, "LOGIN@example.com", "password123")
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	assert.Equal(t, "Login successful", body.Message)

	var data authData
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, registered.User.ID, data.User.ID)

	subject, err := env.auther.TokenService().Verify(data.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID.String(), subject)
}

func TestProtectedRouteTokenFailures(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "tokens@example.com", "password123")

	expired, err := auth.NewTokenService([]byte(testSecret), time.Hour, "", nil, nopLogger{}).
		WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).
		Sign(registered.User.ID.String())
	require.NoError(t, err)

	foreign, err := auth.NewTokenService([]byte("some-other-secret"), time.Hour, "", nil, nopLogger{}).
		Sign(registered.User.ID.String())
	require.NoError(t, err)

	ghost, err := env.auther.GenerateToken(uuid.NewString())
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		status  int
		message string
	}{
		{name: "missing", token: "", status: http.StatusUnauthorized, message: auth.ErrTokenMissing.Message},
		{name: "garbage", token: "not.a.token", status: http.StatusUnauthorized, message: auth.ErrTokenMalformed.Message},
		{name: "wrong secret", token: foreign, status: http.StatusUnauthorized, message: auth.ErrTokenMalformed.Message},
		{name: "expired", token: expired, status: http.StatusUnauthorized, message: auth.ErrTokenExpired.Message},
		{name: "user gone", token: ghost, status: http.StatusUnauthorized, message: auth.ErrIdentityGone.Message},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, tt.token)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.message, body.Message)
			assert.False(t, body.Success)
		})
	}
}

func TestDeactivatedUserIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, created, err := env.auther.BootstrapAdmin(ctx, auth.RegisterUserMessage{
		Email:     "admin@example.com",
		Password:  "admin-password",
		FirstName: "Admin",
		LastName:  "User",
	})
	require.NoError(t, err)
	require.True(t, created)

	resp, body := env.login(t, "admin@example.com", "admin-password")
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	var admin authData
	require.NoError(t, json.Unmarshal(body.Data, &admin))
	assert.Equal(t, auth.RoleAdmin, admin.User.Role)

	user := env.register(t, "member@example.com", "password123")

	resp, body = env.do(t, http.MethodGet, "/api/v1/admin/users/"+admin.User.ID.String(), nil, user.Token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, auth.ErrInsufficientRole.Message, body.Message)

	resp, body = env.do(t, http.MethodPatch, "/api/v1/admin/users/"+user.User.ID.String()+"/status",
		map[string]any{"isActive": false}, admin.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)

	var updated struct {
		User auth.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &updated))
	assert.False(t, updated.User.IsActive)

	resp, body = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, user.Token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, auth.ErrAccountInactive.Message, body.Message)

	resp, body = env.login(t, "member@example.com", "password123")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, auth.ErrAccountInactive.Message, body.Message)

	resp, _ = env.do(t, http.MethodPatch, "/api/v1/admin/users/"+user.User.ID.String()+"/status",
		map[string]any{"isActive": true}, admin.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, user.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.auther.BootstrapAdmin(ctx, auth.RegisterUserMessage{
		Email: "root@example.com", Password: "admin-password", FirstName: "Root", LastName: "Admin",
	})
	require.NoError(t, err)

	_, body := env.login(t, "root@example.com", "admin-password")
	var admin authData
	require.NoError(t, json.Unmarshal(body.Data, &admin))

	resp, body := env.do(t, http.MethodGet, "/api/v1/admin/users/"+uuid.NewString(), nil, admin.Token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, auth.ErrIdentityNotFound.Message, body.Message)

	resp, _ = env.do(t, http.MethodPatch, "/api/v1/admin/users/"+admin.User.ID.String()+"/status",
		map[string]any{}, admin.Token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionNeverRejects(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "session@example.com", "password123")

	expired, err := auth.NewTokenService([]byte(testSecret), time.Hour, "", nil, nopLogger{}).
		WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).
		Sign(registered.User.ID.String())
	require.NoError(t, err)

	tests := []struct {
		name          string
		token         string
		authenticated bool
	}{
		{name: "anonymous", token: "", authenticated: false},
		{name: "invalid token", token: "broken", authenticated: false},
		{name: "expired token", token: expired, authenticated: false},
		{name: "valid token", token: registered.Token, authenticated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, "/api/v1/auth/session", nil, tt.token)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var data struct {
				Authenticated bool       `json:"authenticated"`
				User          *auth.User `json:"user"`
			}
			require.NoError(t, json.Unmarshal(body.Data, &data))
			assert.Equal(t, tt.authenticated, data.Authenticated)
			if tt.authenticated {
				require.NotNil(t, data.User)
				assert.Equal(t, registered.User.ID, data.User.ID)
			} else {
				assert.Nil(t, data.User)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "bye@example.com", "password123")

	resp, body := env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, registered.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Logout successful", body.Message)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthLimiterCountsFailuresOnly(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "limits@example.com", "password123")

	for i := 0; i < 8; i++ {
		resp, body := env.login(t, "limits@example.com", "password123")
		require.Equal(t, http.StatusOK, resp.StatusCode, "attempt %d: %s", i+1, body.Message)
	}

	for i := 0; i < 5; i++ {
		resp, _ := env.login(t, "limits@example.com", "wrong-password")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d", i+1)
	}

	resp, body := env.login(t, "limits@example.com", "password123")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too many authentication attempts, please try again after 15 minutes", body.Message)
	assert.False(t, body.Success)
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	resp, _ = env.do(t, http.MethodGet, "/api/status", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPILimiter(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RateLimit.API.Max = 2
	})

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodGet, "/api/status", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, "/api/status", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too many requests from this IP, please try again later", body.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "metrics@example.com", "password123")
	env.login(t, "metrics@example.com", "wrong-password")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(raw)

	assert.Contains(t, out, `auth_events_total{event="auth.register.success"} 1`)
	assert.Contains(t, out, `auth_events_total{event="auth.login.failure"} 1`)
	assert.Contains(t, out, "auth_http_requests_total")
}

func TestHumanizeWindow(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 15 * time.Minute, want: "15 minutes"},
		{in: time.Minute, want: "1 minute"},
		{in: time.Hour, want: "1 hour"},
		{in: 2 * time.Hour, want: "2 hours"},
		{in: 30 * time.Second, want: "30 seconds"},
		{in: 1500 * time.Millisecond, want: "1.5s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, server.HumanizeWindow(tt.in))
	}
}

func TestOpenDatabaseQueryLog(t *testing.T) {
	tests := []struct {
		name   string
		debug  bool
		logged bool
	}{
		{name: "debug enabled", debug: true, logged: true},
		{name: "debug disabled", debug: false, logged: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			var buf bytes.Buffer

			db, err := server.OpenDatabase(ctx, config.DatabaseConfig{
				Driver: config.DriverSQLite,
				URL:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
				Debug:  tt.debug,
			}, server.WithQueryLog(&buf))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })

			var n int
			require.NoError(t, db.NewSelect().ColumnExpr("42").Scan(ctx, &n))
			assert.Equal(t, 42, n)

			if tt.logged {
				assert.Contains(t, buf.String(), "SELECT 42")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := server.New(server.Options{})
	assert.Error(t, err)

	_, err = server.New(server.Options{Config: config.Defaults()})
	assert.Error(t, err)
}
