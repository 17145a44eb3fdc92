package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-auth-server"
	"github.com/goliatone/go-auth-server/config"
	"github.com/goliatone/go-auth-server/mailer"
	"github.com/goliatone/go-auth-server/metrics"
	"github.com/goliatone/go-auth-server/middleware/limiter"
	"github.com/goliatone/go-auth-server/server"
)

type App struct {
	config  *config.Config
	logger  *glog.BaseLogger
	bunDB   *bun.DB
	redis   *redis.Client
	repo    auth.RepositoryManager
	auther  *auth.Auther
	metrics *metrics.Metrics
	store   limiter.Store
	srv     *fiber.App
}

func (a *App) GetLogger(name string) auth.Logger {
	return a.logger.GetLogger(name)
}

// newLogger builds the root logger, pretty in development and JSON elsewhere
func newLogger(cfg *config.Config) *glog.BaseLogger {
	loggerType := glog.LoggerTypeJSON
	if cfg.IsDevelopment() {
		loggerType = glog.LoggerTypePretty
	}
	return glog.NewLogger(
		glog.WithLoggerType(loggerType),
		glog.WithLevel(cfg.App.LogLevel),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
}

func main() {
	configPath := flag.String("config", os.Getenv("AUTH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, print.MaybePrettyJSON(err))
		os.Exit(1)
	}

	app := &App{
		config: cfg,
		logger: newLogger(cfg),
	}

	ctx := context.Background()

	if cfg.IsDevelopment() {
		app.GetLogger("config").Debug("configuration loaded", "config", print.MaybePrettyJSON(redactConfig(*cfg)))
	}

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithRateLimitStore,
		WithAuthenticator,
		WithAdmin,
		WithHTTPServer,
	}

	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			app.GetLogger("app").Error("startup failed", "error", err)
			app.Close()
			os.Exit(1)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	go func() {
		app.GetLogger("http").Info("server listening", "addr", addr, "env", cfg.App.Env)
		if err := app.srv.Listen(addr); err != nil {
			app.GetLogger("http").Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	if err := app.srv.ShutdownWithTimeout(cfg.App.ShutdownTimeout.Duration()); err != nil {
		app.GetLogger("http").Error("graceful shutdown failed", "error", err)
	}

	app.Close()
}

// Close releases the database, redis and limiter store
func (a *App) Close() {
	if closer, ok := a.store.(*limiter.MemoryStore); ok {
		_ = closer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.bunDB != nil {
		_ = a.bunDB.Close()
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	db, err := server.OpenDatabase(ctx, app.config.Database)
	if err != nil {
		return err
	}
	app.bunDB = db

	app.repo = auth.NewRepositoryManager(db)
	app.repo.MustValidate()

	if app.config.Database.AutoMigrate {
		if err := app.repo.RunMigrations(ctx); err != nil {
			return err
		}
		app.GetLogger("persistence").Info("migrations applied", "driver", app.config.Database.Driver)
	}

	return nil
}

func WithRateLimitStore(ctx context.Context, app *App) error {
	if app.config.RateLimit.Store != config.StoreRedis {
		app.store = limiter.NewMemoryStore()
		return nil
	}

	client, err := server.OpenRedis(ctx, app.config.Redis)
	if err != nil {
		return err
	}
	app.redis = client
	app.store = limiter.NewRedisStore(client, "ratelimit")

	app.GetLogger("limiter").Info("using redis rate limit store", "addr", app.config.Redis.Addr())
	return nil
}

func WithAuthenticator(_ context.Context, app *App) error {
	cfg := app.config

	sinks := []auth.ActivitySink{auth.NewLoggerActivitySink(app.GetLogger("activity"))}
	if cfg.Metrics.Enabled {
		app.metrics = metrics.NewMetrics(cfg.Metrics.Namespace)
		sinks = append(sinks, app.metrics)
	}

	var notifier auth.Notifier
	if cfg.Email.Enabled {
		notifier = mailer.NewSMTPNotifier(mailer.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.User,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			AppName:  cfg.App.Name,
		}).WithLogger(app.GetLogger("mailer"))
	} else {
		notifier = mailer.NewLogNotifier(app.GetLogger("mailer"))
	}

	app.auther = auth.NewAuthenticator(app.repo.Users(), cfg.Auth).
		WithLogger(app.GetLogger("auth")).
		WithNotifier(notifier).
		WithActivitySink(auth.ActivitySinks(sinks...))

	return nil
}

func WithAdmin(ctx context.Context, app *App) error {
	admin := app.config.Admin
	if admin.Email == "" {
		return nil
	}

	user, created, err := app.auther.BootstrapAdmin(ctx, auth.RegisterUserMessage{
		Email:     admin.Email,
		Password:  admin.Password,
		FirstName: admin.FirstName,
		LastName:  admin.LastName,
	})
	if err != nil {
		return err
	}

	if created {
		app.GetLogger("auth").Info("admin user created", "user_id", user.ID.String(), "email", user.Email)
	} else if user.Role != auth.RoleAdmin {
		app.GetLogger("auth").Warn("admin email belongs to a non admin user", "user_id", user.ID.String())
	}

	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv, err := server.New(server.Options{
		Config:  app.config,
		Auther:  app.auther,
		Store:   app.store,
		Metrics: app.metrics,
		Logger:  app.GetLogger("http"),
	})
	if err != nil {
		return err
	}
	app.srv = srv
	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}

func redactConfig(cfg config.Config) config.Config {
	const mask = "[REDACTED]"
	if cfg.Auth.SigningKey != "" {
		cfg.Auth.SigningKey = mask
	}
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = mask
	}
	if cfg.Email.Password != "" {
		cfg.Email.Password = mask
	}
	if cfg.Admin.Password != "" {
		cfg.Admin.Password = mask
	}
	return cfg
}
