package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	auth "github.com/goliatone/go-auth-server"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	StoreMemory = "memory"
	StoreRedis  = "redis"

	minProductionSecret = 32
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Email     EmailConfig     `yaml:"email"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Admin     AdminConfig     `yaml:"admin"`
}

// AppConfig holds HTTP server settings
type AppConfig struct {
	Name            string   `yaml:"name"`
	Env             string   `yaml:"env"`
	Port            int      `yaml:"port"`
	LogLevel        string   `yaml:"log_level"`
	CORSOrigin      string   `yaml:"cors_origin"`
	BodyLimit       int      `yaml:"body_limit"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds token and password settings
type AuthConfig struct {
	SigningKey      string   `yaml:"signing_key"`
	TokenExpiration Duration `yaml:"token_expiration"`
	Issuer          string   `yaml:"issuer"`
	Audience        []string `yaml:"audience"`
	PasswordCost    int      `yaml:"password_cost"`
	HashConcurrency int      `yaml:"hash_concurrency"`
}

var _ auth.Config = AuthConfig{}

func (a AuthConfig) GetSigningKey() string              { return a.SigningKey }
func (a AuthConfig) GetTokenExpiration() time.Duration { return a.TokenExpiration.Duration() }
func (a AuthConfig) GetIssuer() string                  { return a.Issuer }
func (a AuthConfig) GetAudience() []string              { return a.Audience }
func (a AuthConfig) GetPasswordCost() int               { return a.PasswordCost }
func (a AuthConfig) GetHashConcurrency() int            { return a.HashConcurrency }

// LimitConfig is a fixed window
type LimitConfig struct {
	Window Duration `yaml:"window"`
	Max    int      `yaml:"max"`
}

// RateLimitConfig holds the general API limiter and the stricter limiter
// for credential submissions
type RateLimitConfig struct {
	Store string      `yaml:"store"`
	API   LimitConfig `yaml:"api"`
	Auth  LimitConfig `yaml:"auth"`
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver"`
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
	Debug       bool   `yaml:"debug"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// AdminConfig seeds an admin account on startup when Email is set
type AdminConfig struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

// Defaults returns the configuration used before any file or env override
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:            "Auth API",
			Env:             EnvProduction,
			Port:            3000,
			LogLevel:        "info",
			CORSOrigin:      "*",
			BodyLimit:       10 * 1024 * 1024,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Auth: AuthConfig{
			TokenExpiration: Duration(auth.DefaultTokenExpiration),
			PasswordCost:    auth.DefaultPasswordCost,
		},
		RateLimit: RateLimitConfig{
			Store: StoreMemory,
			API:   LimitConfig{Window: Duration(15 * time.Minute), Max: 100},
			Auth:  LimitConfig{Window: Duration(15 * time.Minute), Max: 5},
		},
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			URL:         "file:auth.db?cache=shared",
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Email: EmailConfig{
			Port: 587,
			From: "noreply@example.com",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "auth",
		},
		Admin: AdminConfig{
			FirstName: "Admin",
			LastName:  "User",
		},
	}
}

// Load reads defaults, then the optional YAML file at path, then the
// process environment, and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(err, errors.CategoryValidation, "failed to parse config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// IsDevelopment reports whether internal error details may be disclosed
func (c *Config) IsDevelopment() bool {
	return c.App.Env == EnvDevelopment
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	err := validation.Errors{
		"app":        c.App.Validate(),
		"auth":       c.Auth.validate(c.IsProduction()),
		"rate_limit": c.RateLimit.Validate(),
		"database":   c.Database.Validate(),
		"email":      c.Email.Validate(),
		"admin":      c.Admin.Validate(),
	}.Filter()

	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid configuration")
	}
	return nil
}

func (a AppConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.Env, validation.Required, validation.In(EnvDevelopment, EnvProduction, EnvTest)),
		validation.Field(&a.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&a.BodyLimit, validation.Min(0)),
	)
}

func (a AuthConfig) validate(production bool) error {
	minSecret := 1
	if production {
		minSecret = minProductionSecret
	}
	return validation.ValidateStruct(&a,
		validation.Field(&a.SigningKey, validation.Required, validation.Length(minSecret, 0)),
		validation.Field(&a.TokenExpiration, validation.By(positiveDuration)),
		validation.Field(&a.PasswordCost, validation.Min(bcrypt.MinCost), validation.Max(bcrypt.MaxCost)),
		validation.Field(&a.HashConcurrency, validation.Min(0)),
	)
}

func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Store, validation.Required, validation.In(StoreMemory, StoreRedis)),
		validation.Field(&r.API),
		validation.Field(&r.Auth),
	)
}

func (l LimitConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Window, validation.By(positiveDuration)),
		validation.Field(&l.Max, validation.Required, validation.Min(1)),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&d.URL, validation.Required),
	)
}

func (e EmailConfig) Validate() error {
	if !e.Enabled {
		return nil
	}
	return validation.ValidateStruct(&e,
		validation.Field(&e.Host, validation.Required),
		validation.Field(&e.From, validation.Required, is.Email),
	)
}

func (a AdminConfig) Validate() error {
	if a.Email == "" {
		return nil
	}
	return validation.ValidateStruct(&a,
		validation.Field(&a.Email, is.Email),
		validation.Field(&a.Password, validation.Required, validation.Length(8, 72)),
	)
}

func positiveDuration(value any) error {
	var d time.Duration
	switch v := value.(type) {
	case Duration:
		d = v.Duration()
	case *Duration:
		if v != nil {
			d = v.Duration()
		}
	}
	if d <= 0 {
		return fmt.Errorf("must be a positive duration")
	}
	return nil
}

// ApplyEnv overrides values from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("APP_NAME", &c.App.Name)
	// APP_ENV wins over NODE_ENV when both are set
	e.str("NODE_ENV", &c.App.Env)
	e.str("APP_ENV", &c.App.Env)
	e.int("PORT", &c.App.Port)
	e.str("LOG_LEVEL", &c.App.LogLevel)
	e.str("CORS_ORIGIN", &c.App.CORSOrigin)
	e.duration("SHUTDOWN_TIMEOUT", &c.App.ShutdownTimeout)

	e.str("JWT_SECRET", &c.Auth.SigningKey)
	e.duration("JWT_EXPIRES_IN", &c.Auth.TokenExpiration)
	e.str("JWT_ISSUER", &c.Auth.Issuer)
	e.int("BCRYPT_COST", &c.Auth.PasswordCost)
	e.int("HASH_CONCURRENCY", &c.Auth.HashConcurrency)

	e.str("RATE_LIMIT_STORE", &c.RateLimit.Store)
	e.duration("RATE_LIMIT_WINDOW", &c.RateLimit.API.Window)
	e.millis("RATE_LIMIT_WINDOW_MS", &c.RateLimit.API.Window)
	e.int("RATE_LIMIT_MAX_REQUESTS", &c.RateLimit.API.Max)
	e.duration("AUTH_RATE_LIMIT_WINDOW", &c.RateLimit.Auth.Window)
	e.millis("AUTH_RATE_LIMIT_WINDOW_MS", &c.RateLimit.Auth.Window)
	e.int("AUTH_RATE_LIMIT_MAX", &c.RateLimit.Auth.Max)

	e.str("DATABASE_DRIVER", &c.Database.Driver)
	e.str("DATABASE_URL", &c.Database.URL)
	e.bool("DATABASE_AUTO_MIGRATE", &c.Database.AutoMigrate)
	e.bool("DATABASE_DEBUG", &c.Database.Debug)

	e.str("REDIS_HOST", &c.Redis.Host)
	e.int("REDIS_PORT", &c.Redis.Port)
	e.str("REDIS_PASSWORD", &c.Redis.Password)
	e.int("REDIS_DB", &c.Redis.DB)

	e.bool("EMAIL_ENABLED", &c.Email.Enabled)
	e.str("EMAIL_HOST", &c.Email.Host)
	e.int("EMAIL_PORT", &c.Email.Port)
	e.str("EMAIL_USER", &c.Email.User)
	e.str("EMAIL_PASSWORD", &c.Email.Password)
	e.str("EMAIL_FROM", &c.Email.From)

	e.bool("METRICS_ENABLED", &c.Metrics.Enabled)
	e.str("METRICS_PATH", &c.Metrics.Path)

	e.str("ADMIN_EMAIL", &c.Admin.Email)
	e.str("ADMIN_PASSWORD", &c.Admin.Password)

	if len(e.errs) > 0 {
		return errors.Wrap(e.errs.Filter(), errors.CategoryValidation, "invalid environment configuration")
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   validation.Errors
}

func (e *envReader) get(key string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key string, err error) {
	if e.errs == nil {
		e.errs = validation.Errors{}
	}
	e.errs[key] = err
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, fmt.Errorf("must be an integer"))
		return
	}
	*dst = n
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, fmt.Errorf("must be a boolean"))
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = Duration(d)
}

func (e *envReader) millis(key string, dst *Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, fmt.Errorf("must be milliseconds"))
		return
	}
	*dst = Duration(time.Duration(n) * time.Millisecond)
}
