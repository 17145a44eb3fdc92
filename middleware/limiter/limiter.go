package limiter

import (
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

const (
	TextCodeTooManyRequests     = "TOO_MANY_REQUESTS"
	TextCodeTooManyAuthAttempts = "TOO_MANY_AUTH_ATTEMPTS"

	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = fiber.HeaderRetryAfter
)

// Logger mirrors the auth logger so the limiter has no dependency on it
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	// Name labels the limiter in logs and callbacks
	Name string
	// Max is the number of counted requests allowed per window
	Max int
	// Window is the fixed window length
	Window time.Duration
	Store  Store
	// Prefix namespaces keys so limiters can share a store
	Prefix string
	// KeyGenerator defaults to the client IP
	KeyGenerator func(*fiber.Ctx) string
	// Next skips the limiter when it returns true
	Next func(*fiber.Ctx) bool
	// SkipSuccessfulRequests gives back the hit of requests that complete
	// without error and with a status below 400, so only failures count
	SkipSuccessfulRequests bool
	Message                string
	// TextCode is attached to the rate limit error
	TextCode string
	// OnLimitReached is called for every rejected request
	OnLimitReached func(c *fiber.Ctx, name, key string)
	Logger         Logger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Name == "" {
		cfg.Name = "api"
	}

	if cfg.Max <= 0 {
		cfg.Max = 100
	}

	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}

	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}

	if cfg.Prefix == "" {
		cfg.Prefix = cfg.Name
	}

	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = func(c *fiber.Ctx) string {
			return c.IP()
		}
	}

	if cfg.Message == "" {
		cfg.Message = "Too many requests from this IP, please try again later"
	}

	if cfg.TextCode == "" {
		cfg.TextCode = TextCodeTooManyRequests
	}

	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	return cfg
}

// New returns a fixed window rate limiting handler. Requests over the cap
// are rejected with a rate limit error before reaching the next handler.
// Store failures let the request through.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}

		key := cfg.Prefix + ":" + cfg.KeyGenerator(c)
		ctx := c.UserContext()

		count, resetAt, err := cfg.Store.Increment(ctx, key, cfg.Window)
		if err != nil {
			cfg.Logger.Error("rate limit store unavailable, allowing request", "limiter", cfg.Name, "error", err)
			return c.Next()
		}

		resetIn := secondsUntil(resetAt)
		remaining := cfg.Max - count
		if remaining < 0 {
			remaining = 0
		}

		c.Set(HeaderLimit, strconv.Itoa(cfg.Max))
		c.Set(HeaderRemaining, strconv.Itoa(remaining))
		c.Set(HeaderReset, strconv.Itoa(resetIn))

		if count > cfg.Max {
			c.Set(HeaderRetryAfter, strconv.Itoa(resetIn))
			cfg.Logger.Debug("rate limit reached", "limiter", cfg.Name, "key", key, "count", count)
			if cfg.OnLimitReached != nil {
				cfg.OnLimitReached(c, cfg.Name, key)
			}
			return NewLimitError(cfg.Message, cfg.TextCode)
		}

		err = c.Next()

		if cfg.SkipSuccessfulRequests && err == nil && c.Response().StatusCode() < fiber.StatusBadRequest {
			if derr := cfg.Store.Decrement(ctx, key); derr != nil {
				cfg.Logger.Error("rate limit decrement failed", "limiter", cfg.Name, "error", derr)
			} else {
				c.Set(HeaderRemaining, strconv.Itoa(remaining+1))
			}
		}

		return err
	}
}

// NewLimitError builds the error returned for rejected requests
func NewLimitError(message, textCode string) *errors.Error {
	return errors.New(message, errors.CategoryRateLimit).
		WithCode(fiber.StatusTooManyRequests).
		WithTextCode(textCode)
}

func secondsUntil(t time.Time) int {
	d := time.Until(t)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
