package jwtware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-auth-server"
)

var defaultTokenLookup = "header:" + fiber.HeaderAuthorization

// TokenVerifier verifies a raw token and returns its subject
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// IdentityResolver loads the current state of a token subject
type IdentityResolver interface {
	FindIdentityByID(ctx context.Context, id string) (*auth.User, error)
}

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	// ErrorHandler receives every rejection. The default returns the error
	// so the application error handler renders it.
	ErrorHandler fiber.ErrorHandler
	ContextKey   string
	TokenLookup  string
	AuthScheme   string
	// TokenVerifier is required for token validation
	TokenVerifier TokenVerifier
	// Identities is required, users are re-read on every request so
	// deactivation takes effect before tokens expire
	Identities IdentityResolver
	// Optional lets requests through without a user on any failure
	Optional bool
	Logger   auth.Logger
}

// New returns the access middleware
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawTokenFromContext(c, cfg.getExtractors())
		if err != nil {
			if cfg.Optional {
				cfg.Logger.Debug("optional auth: no token, continuing anonymously", "path", c.Path())
				return c.Next()
			}
			return cfg.ErrorHandler(c, auth.ErrTokenMissing)
		}

		subject, err := cfg.TokenVerifier.Verify(raw)
		if err != nil {
			if cfg.Optional {
				cfg.Logger.Info("optional auth: invalid token, continuing anonymously",
					"path", c.Path(),
					"reason", reason(err),
				)
				return c.Next()
			}
			return cfg.ErrorHandler(c, err)
		}

		user, err := cfg.Identities.FindIdentityByID(c.UserContext(), subject)
		if err != nil {
			if cfg.Optional {
				cfg.Logger.Info("optional auth: token user rejected, continuing anonymously",
					"path", c.Path(),
					"reason", reason(err),
				)
				return c.Next()
			}
			return cfg.ErrorHandler(c, err)
		}

		auth.SetCurrentUser(c, cfg.ContextKey, user.Sanitized())

		return cfg.SuccessHandler(c)
	}
}

// Optional returns the pass through variant of the access middleware
func Optional(config Config) fiber.Handler {
	config.Optional = true
	return New(config)
}

func reason(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return err.Error()
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(_ *fiber.Ctx, err error) error {
			return err
		}
	}

	if cfg.TokenVerifier == nil {
		panic("AUTH: JWT middleware configuration: TokenVerifier is required.")
	}

	if cfg.Identities == nil {
		panic("AUTH: JWT middleware configuration: Identities is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = auth.DefaultContextKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.Logger == nil {
		cfg.Logger = auth.DefaultLogger()
	}

	return cfg
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

// ExtractRawTokenFromContext returns the first token found by the extractors
func ExtractRawTokenFromContext(c *fiber.Ctx, extractors []JWTExtractor) (string, error) {
	for _, extractor := range extractors {
		raw, err := extractor(c)
		if raw != "" && err == nil {
			return raw, nil
		}
	}
	return "", auth.ErrTokenMissing
}

// GetExtractors parses a lookup definition such as
// "header:Authorization,cookie:jwt,query:auth_token"
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 && strings.TrimSpace(authSchemes[0]) != "" {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}

		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch source {
		case "header":
			extractors = append(extractors, jwtFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(name))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(name))
		}
	}

	return extractors
}

type JWTExtractor func(c *fiber.Ctx) (string, error)

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		a := strings.TrimSpace(c.Get(header))
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			if token := strings.TrimSpace(a[l:]); token != "" {
				return token, nil
			}
		}
		return "", auth.ErrTokenMissing
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", auth.ErrTokenMissing
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", auth.ErrTokenMissing
		}
		return token, nil
	}
}
