package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
)

// RegisterUserMessage holds the fields needed to create an account
type RegisterUserMessage struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// AuthResult is returned by register and login
type AuthResult struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// Auther orchestrates registration, login and user lookups
type Auther struct {
	users        UserStore
	provider     IdentityProvider
	hasher       PasswordHasher
	tokenService TokenService
	notifier     Notifier
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users UserStore, opts Config) *Auther {
	hasher := NewBcryptHasherFromConfig(opts)

	return &Auther{
		users:        users,
		provider:     NewUserProvider(users, hasher),
		hasher:       hasher,
		tokenService: NewTokenServiceFromConfig(opts, defLogger{}),
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	if ts, ok := s.tokenService.(*TokenServiceImpl); ok {
		ts.WithLogger(logger)
	}
	if p, ok := s.provider.(*UserProvider); ok {
		p.WithLogger(logger)
	}
	return s
}

// WithHasher replaces the password hasher. The default identity provider
// is rebuilt so both share the same hasher.
func (s *Auther) WithHasher(hasher PasswordHasher) *Auther {
	if hasher == nil {
		return s
	}
	s.hasher = hasher
	if _, ok := s.provider.(*UserProvider); ok {
		s.provider = NewUserProvider(s.users, hasher).WithLogger(s.logger)
	}
	return s
}

// WithIdentityProvider sets a custom provider for credential checks
func (s *Auther) WithIdentityProvider(provider IdentityProvider) *Auther {
	if provider != nil {
		s.provider = provider
	}
	return s
}

// WithTokenService sets a custom token service
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// WithNotifier configures the welcome notification collaborator
func (s *Auther) WithNotifier(n Notifier) *Auther {
	s.notifier = n
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// IdentityProvider returns the provider used for credential and token checks
func (s *Auther) IdentityProvider() IdentityProvider {
	return s.provider
}

// Register creates a user with the default role and returns it along with
// a token. The welcome notification is best effort.
func (s *Auther) Register(ctx context.Context, msg RegisterUserMessage) (*AuthResult, error) {
	user, err := s.createUser(ctx, msg, RoleUser)
	if err != nil {
		return nil, err
	}

	s.sendWelcome(ctx, user)

	token, err := s.GenerateToken(user.ID.String())
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventRegisterSuccess, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"email": user.Email,
	})

	return &AuthResult{User: user.Sanitized(), Token: token}, nil
}

// BootstrapAdmin makes sure an admin with the given email exists. Existing
// users are left untouched.
func (s *Auther) BootstrapAdmin(ctx context.Context, msg RegisterUserMessage) (*User, bool, error) {
	existing, err := s.users.FindByEmail(ctx, NormalizeEmail(msg.Email))
	if err == nil {
		return existing.Sanitized(), false, nil
	}

	if !IsNotFound(err) {
		return nil, false, errors.Wrap(err, errors.CategoryInternal, "failed to look up admin user")
	}

	user, err := s.createUser(ctx, msg, RoleAdmin)
	if err != nil {
		return nil, false, err
	}

	return user.Sanitized(), true, nil
}

func (s *Auther) createUser(ctx context.Context, msg RegisterUserMessage, role UserRole) (*User, error) {
	email := NormalizeEmail(msg.Email)

	_, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrEmailInUse
	case !IsNotFound(err):
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to check email availability")
	}

	hash, err := s.hasher.Hash(ctx, msg.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    msg.FirstName,
		LastName:     msg.LastName,
		Role:         role,
		IsActive:     true,
		IsVerified:   false,
	}
	prepareUserDefaults(user, now)

	created, err := s.users.Register(ctx, user)
	if err != nil {
		var richErr *errors.Error
		if errors.As(err, &richErr) && richErr.Category == errors.CategoryConflict {
			return nil, richErr
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create user")
	}

	return created, nil
}

func (s *Auther) sendWelcome(ctx context.Context, user *User) {
	if s.notifier == nil {
		return
	}

	if err := s.notifier.SendWelcome(ctx, user); err != nil {
		s.logger.Warn("failed to send welcome notification", "user_id", user.ID.String(), "error", err)
	}
}

// Login verifies credentials and returns the user along with a fresh token
func (s *Auther) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)

	user, err := s.provider.VerifyIdentity(ctx, email, password)
	if err != nil {
		s.logger.Debug("Login verify identity error", "error", err)
		userID := ""
		if HasTextCode(err, TextCodeAccountInactive) {
			userID = s.lookupUserID(ctx, email)
		}
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, userID, map[string]any{
			"identifier": email,
			"error":      err.Error(),
		})
		return nil, err
	}

	token, err := s.GenerateToken(user.ID.String())
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
			"identifier": email,
			"error":      err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"identifier": email,
	})

	return &AuthResult{User: user.Sanitized(), Token: token}, nil
}

func (s *Auther) lookupUserID(ctx context.Context, email string) string {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil || user == nil {
		return ""
	}
	return user.ID.String()
}

// GetByID returns the user without its password hash
func (s *Auther) GetByID(ctx context.Context, id string) (*User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user")
	}
	return user.Sanitized(), nil
}

// GenerateToken mints a token for the given user id
func (s *Auther) GenerateToken(id string) (string, error) {
	return s.tokenService.Sign(id)
}

// SetUserStatus activates or deactivates a user. Deactivated users can not
// log in and their outstanding tokens stop passing the access middleware.
func (s *Auther) SetUserStatus(ctx context.Context, actor ActorRef, id string, active bool) (*User, error) {
	updater, ok := s.users.(UserStatusUpdater)
	if !ok {
		return nil, errors.New("user store does not support status updates", errors.CategoryInternal).
			WithCode(errors.CodeInternal).
			WithTextCode(TextCodeStatusNotSupported)
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := updater.SetActive(ctx, id, active)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to update user status")
	}

	s.emitAuthEvent(ctx, ActivityEventUserStatusChanged, actor, id, map[string]any{
		"from_active": current.IsActive,
		"to_active":   active,
	})

	return updated.Sanitized(), nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: s.now(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error", "error", err)
	}
}
