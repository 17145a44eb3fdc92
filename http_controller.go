package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes
	maxPasswordLength = 72
)

// AuthService is what the HTTP controller needs from the auth service
type AuthService interface {
	Register(ctx context.Context, msg RegisterUserMessage) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	GetByID(ctx context.Context, id string) (*User, error)
	SetUserStatus(ctx context.Context, actor ActorRef, id string, active bool) (*User, error)
}

var _ AuthService = (*Auther)(nil)

// RouteGuards are the handlers mounted in front of the auth routes
type RouteGuards struct {
	// AuthLimiter throttles credential submissions
	AuthLimiter fiber.Handler
	// Protected rejects requests without a valid token
	Protected fiber.Handler
	// OptionalAuth resolves the user when possible and never rejects
	OptionalAuth fiber.Handler
}

// RegisterAuthRoutes mounts the auth routes on the given router
func RegisterAuthRoutes(r fiber.Router, controller *AuthController, guards RouteGuards) {
	routes := controller.Routes

	r.Post(routes.Register, chain(controller.Register, guards.AuthLimiter)...).
		Name("auth.register")
	r.Post(routes.Login, chain(controller.Login, guards.AuthLimiter)...).
		Name("auth.login")
	r.Get(routes.Me, chain(controller.Me, guards.Protected)...).
		Name("auth.me")
	r.Post(routes.Logout, chain(controller.Logout, guards.Protected)...).
		Name("auth.logout")
	r.Get(routes.Session, chain(controller.Session, guards.OptionalAuth)...).
		Name("auth.session")
}

// RegisterAdminRoutes mounts the user management routes. Every route sits
// behind the access middleware and the admin role gate.
func RegisterAdminRoutes(r fiber.Router, controller *AuthController, guards RouteGuards) {
	gate := RequireRoles(RoleAdmin)

	r.Get(controller.Routes.AdminUser, chain(controller.AdminGetUser, guards.Protected, gate)...).
		Name("admin.users.get")
	r.Patch(controller.Routes.AdminUserStatus, chain(controller.AdminSetUserStatus, guards.Protected, gate)...).
		Name("admin.users.status")
}

func chain(h fiber.Handler, mws ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(mws)+1)
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return append(out, h)
}

type AuthControllerRoutes struct {
	Register        string
	Login           string
	Me              string
	Logout          string
	Session         string
	AdminUser       string
	AdminUserStatus string
}

type AuthController struct {
	Debug  bool
	Logger Logger
	Auther AuthService
	Routes *AuthControllerRoutes
}

type AuthControllerOption func(*AuthController) *AuthController

// WithControllerLogger sets the controller logger
func WithControllerLogger(l Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Logger = normalizeLogger(l)
		return ac
	}
}

// WithAuthService sets the service the controller delegates to
func WithAuthService(s AuthService) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Auther = s
		return ac
	}
}

// WithControllerDebug dumps decoded payloads to the debug log
func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Register:        "/register",
			Login:           "/login",
			Me:              "/me",
			Logout:          "/logout",
			Session:         "/session",
			AdminUser:       "/users/:id",
			AdminUserStatus: "/users/:id/status",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing AuthService in auth controller...")
	}

	return c
}

// RegisterRequest payload
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Normalize trims the payload and lower cases the email
func (r *RegisterRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 255), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(minPasswordLength, maxPasswordLength)),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 100)),
	)
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// UserStatusRequest payload
type UserStatusRequest struct {
	IsActive *bool `json:"isActive"`
}

// Validate will run validation rules
func (r UserStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IsActive, validation.NotNil),
	)
}

func (a *AuthController) Register(c *fiber.Ctx) error {
	payload := new(RegisterRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}
	payload.Normalize()

	if err := payload.Validate(); err != nil {
		return NewValidationError(err)
	}

	res, err := a.Auther.Register(c.UserContext(), RegisterUserMessage{
		Email:     payload.Email,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	})
	if err != nil {
		return err
	}

	return Success(c, fiber.StatusCreated, "User registered successfully", res)
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}
	payload.Email = NormalizeEmail(payload.Email)

	if err := payload.Validate(); err != nil {
		return NewValidationError(err)
	}

	res, err := a.Auther.Login(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	return Success(c, fiber.StatusOK, "Login successful", res)
}

func (a *AuthController) Me(c *fiber.Ctx) error {
	user, ok := CurrentUser(c)
	if !ok {
		return ErrTokenMissing
	}

	return Success(c, fiber.StatusOK, "User retrieved successfully", fiber.Map{
		"user": user.Sanitized(),
	})
}

// Logout is a no op, tokens are discarded by the client
func (a *AuthController) Logout(c *fiber.Ctx) error {
	return Success(c, fiber.StatusOK, "Logout successful", nil)
}

func (a *AuthController) Session(c *fiber.Ctx) error {
	data := fiber.Map{"authenticated": false}
	if user, ok := CurrentUser(c); ok {
		data["authenticated"] = true
		data["user"] = user.Sanitized()
	}
	return Success(c, fiber.StatusOK, "Session resolved", data)
}

func (a *AuthController) AdminGetUser(c *fiber.Ctx) error {
	user, err := a.Auther.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	return Success(c, fiber.StatusOK, "User retrieved successfully", fiber.Map{
		"user": user,
	})
}

func (a *AuthController) AdminSetUserStatus(c *fiber.Ctx) error {
	payload := new(UserStatusRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return NewValidationError(err)
	}

	actor := ActorRef{Type: "admin"}
	if current, ok := CurrentUser(c); ok {
		actor.ID = current.ID.String()
	}

	user, err := a.Auther.SetUserStatus(c.UserContext(), actor, c.Params("id"), *payload.IsActive)
	if err != nil {
		return err
	}

	return Success(c, fiber.StatusOK, "User status updated successfully", fiber.Map{
		"user": user,
	})
}

func (a *AuthController) bind(c *fiber.Ctx, payload any) error {
	if err := c.BodyParser(payload); err != nil {
		a.Logger.Debug("failed to parse request body", "path", c.Path(), "error", err)
		return ErrInvalidPayload
	}

	if a.Debug {
		a.Logger.Debug("request payload", "path", c.Path(), "payload", print.MaybePrettyJSON(redact(payload)))
	}

	return nil
}

func redact(payload any) any {
	switch p := payload.(type) {
	case *RegisterRequest:
		out := *p
		out.Password = "[REDACTED]"
		return out
	case *LoginRequest:
		out := *p
		out.Password = "[REDACTED]"
		return out
	default:
		return payload
	}
}
