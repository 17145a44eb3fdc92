package server

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-auth-server"
	"github.com/goliatone/go-auth-server/config"
	"github.com/goliatone/go-auth-server/metrics"
	"github.com/goliatone/go-auth-server/middleware/jwtware"
	"github.com/goliatone/go-auth-server/middleware/limiter"
)

const (
	APIPrefix   = "/api"
	V1Prefix    = "/api/v1"
	StatusRoute = "/api/status"
)

// Options are the collaborators the HTTP application is assembled from
type Options struct {
	Config *config.Config
	Auther *auth.Auther
	// Store backs both rate limiters, defaults to an in process store
	Store   limiter.Store
	Metrics *metrics.Metrics
	Logger  auth.Logger
	Now     func() time.Time
}

// New builds the fiber application with the full middleware stack and all
// routes mounted.
func New(opts Options) (*fiber.App, error) {
	if opts.Config == nil {
		return nil, errors.New("server config is required", errors.CategoryInternal)
	}
	if opts.Auther == nil {
		return nil, errors.New("server auth service is required", errors.CategoryInternal)
	}

	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = auth.DefaultLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	store := opts.Store
	if store == nil {
		store = limiter.NewMemoryStore()
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		BodyLimit:             cfg.App.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler: auth.ErrorHandler(auth.ErrorHandlerConfig{
			Diagnostic: cfg.IsDevelopment(),
			Logger:     logger,
		}),
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: cfg.IsDevelopment(),
	}))
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.App.CORSOrigin,
		// credentials cannot be combined with a wildcard origin
		AllowCredentials: cfg.App.CORSOrigin != "*",
	}))
	app.Use(RequestLogger(logger))

	if opts.Metrics != nil {
		app.Use(opts.Metrics.Middleware())
		if cfg.Metrics.Enabled {
			app.Get(cfg.Metrics.Path, opts.Metrics.Handler()).Name("metrics")
		}
	}

	onLimit := func(c *fiber.Ctx, name, key string) {
		logger.Warn("rate limit exceeded", "limiter", name, "ip", c.IP(), "path", c.Path())
		if opts.Metrics != nil {
			opts.Metrics.RateLimited(c, name, key)
		}
	}

	app.Use(APIPrefix, limiter.New(limiter.Config{
		Name:           "api",
		Max:            cfg.RateLimit.API.Max,
		Window:         cfg.RateLimit.API.Window.Duration(),
		Store:          store,
		OnLimitReached: onLimit,
		Logger:         logger,
	}))

	app.Get(StatusRoute, func(c *fiber.Ctx) error {
		return auth.Success(c, fiber.StatusOK, "Server is running", fiber.Map{
			"status":      "healthy",
			"environment": cfg.App.Env,
			"timestamp":   now().UTC().Format(time.RFC3339),
		})
	}).Name("status")

	tokens := opts.Auther.TokenService()
	identities := opts.Auther.IdentityProvider()

	guards := auth.RouteGuards{
		AuthLimiter: limiter.New(limiter.Config{
			Name:                   "auth",
			Max:                    cfg.RateLimit.Auth.Max,
			Window:                 cfg.RateLimit.Auth.Window.Duration(),
			Store:                  store,
			SkipSuccessfulRequests: true,
			Message:                fmt.Sprintf("Too many authentication attempts, please try again after %s", HumanizeWindow(cfg.RateLimit.Auth.Window.Duration())),
			TextCode:               limiter.TextCodeTooManyAuthAttempts,
			OnLimitReached:         onLimit,
			Logger:                 logger,
		}),
		Protected: jwtware.New(jwtware.Config{
			TokenVerifier: tokens,
			Identities:    identities,
			Logger:        logger,
		}),
		OptionalAuth: jwtware.Optional(jwtware.Config{
			TokenVerifier: tokens,
			Identities:    identities,
			Logger:        logger,
		}),
	}

	controller := auth.NewAuthController(
		auth.WithAuthService(opts.Auther),
		auth.WithControllerLogger(logger),
		auth.WithControllerDebug(cfg.IsDevelopment()),
	)

	v1 := app.Group(V1Prefix)
	auth.RegisterAuthRoutes(v1.Group("/auth"), controller, guards)
	auth.RegisterAdminRoutes(v1.Group("/admin"), controller, guards)

	app.Use(func(c *fiber.Ctx) error {
		return auth.NewRouteNotFound(c.OriginalURL())
	})

	return app, nil
}

// RequestLogger logs every request once it completes
func RequestLogger(logger auth.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = auth.NormalizeError(err, false).Status
		}

		logger.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", time.Since(start).String(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
			"ip", c.IP(),
		)

		return err
	}
}

// HumanizeWindow renders a limiter window the way it is shown to clients
func HumanizeWindow(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	case d%time.Second == 0:
		return plural(int(d/time.Second), "second")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
