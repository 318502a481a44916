package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-access"
	"github.com/goliatone/go-access/activitymap"
	"github.com/goliatone/go-access/config"
	"github.com/goliatone/go-access/metrics"
	"github.com/goliatone/go-access/provider/auth0"
	"github.com/goliatone/go-access/redisstore"
	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

// App holds the wired server dependencies.
type App struct {
	config      *config.Config
	logger      *glog.BaseLogger
	db          *bun.DB
	persistence *persistence.Client
	redis       *redis.Client
	registry    *prometheus.Registry
	repos       access.RepositoryManager
	service     *access.Service
}

func (a *App) GetLogger(name string) access.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) loggerProvider() access.LoggerProvider {
	return access.LoggerProviderFunc(a.GetLogger)
}

// NewApp wires storage, credentials, activity sinks and the service.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	access.DefaultPhoneRegion = strings.ToUpper(cfg.PhoneRegion)

	app := &App{
		config:   cfg,
		logger:   newLogger(cfg.Debug),
		registry: prometheus.NewRegistry(),
	}

	client, err := app.openDB()
	if err != nil {
		return nil, err
	}
	app.persistence = client
	app.db = client.DB()
	db := app.db

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sink := access.MultiActivitySink(
		metrics.New(app.registry),
		activitymap.Sink(activitymap.LogPublisher(app.GetLogger("activity"))),
	)

	userOpts := []access.UsersOption{
		access.WithUsersStateMachineOptions(
			access.WithStateMachineActivitySink(sink),
			access.WithStateMachineLoggerProvider(app.loggerProvider()),
		),
	}
	if cfg.HashidUserIDs {
		userOpts = append(userOpts, access.WithHashidUserIDs())
	}
	app.repos = access.NewRepositoryManager(db, userOpts...)
	if err := app.repos.Validate(); err != nil {
		app.Close()
		return nil, err
	}

	sessions, err := app.sessions(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	credentials, err := app.credentials(ctx, sessions)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.service = access.NewService(
		app.repos.Hospitals(),
		app.repos.Users(),
		credentials,
		access.WithActivitySink(sink),
		access.WithRequireVerifiedEmail(cfg.RequireVerifiedEmail),
		access.WithLoggerProvider(app.loggerProvider()),
	)

	return app, nil
}

func newLogger(debug bool) *glog.BaseLogger {
	if debug {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("access"),
			glog.WithAddSource(true),
		)
	}
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("access"),
		glog.WithAddSource(false),
	)
}

func (a *App) sessions(ctx context.Context) (*access.Sessions, error) {
	var store access.SessionStore
	switch a.config.SessionStore {
	case config.SessionStoreRedis:
		client, err := redisstore.Connect(ctx, a.config.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		store = redisstore.New(client)
	default:
		store = access.NewBunSessionStore(a.db)
	}

	return access.NewSessions(store, []byte(a.config.SessionSigningKey),
		access.WithSessionTTL(a.config.SessionTTL),
		access.WithSessionIssuer(a.config.SessionIssuer),
		access.WithSessionsLoggerProvider(a.loggerProvider()),
	), nil
}

func (a *App) credentials(ctx context.Context, sessions *access.Sessions) (access.CredentialStore, error) {
	if a.config.CredentialProvider == config.ProviderAuth0 {
		return auth0.NewFromConfig(ctx, auth0.Config{
			Domain:       a.config.Auth0Domain,
			ClientID:     a.config.Auth0ClientID,
			ClientSecret: a.config.Auth0ClientSecret,
			Connection:   a.config.Auth0Connection,
		}, sessions, auth0.WithLoggerProvider(a.loggerProvider()))
	}

	return access.NewLocalCredentialStore(a.db, sessions,
		access.WithNotifier(a.notifier()),
		access.WithCredentialsLoggerProvider(a.loggerProvider()),
	), nil
}

// notifier logs credential links; tokens are masked unless debug logging is on.
func (a *App) notifier() access.Notifier {
	n := access.NewLogNotifier(a.GetLogger("notifier"))
	n.BaseURL = a.config.PublicURL
	return n
}

// HTTPServer builds the fiber backed router with the access routes.
func (a *App) HTTPServer() router.Server[*fiber.App] {
	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:  true,
			StrictRouting: false,
		}))
	})

	controller := access.NewHTTPController(a.service, access.HTTPConfig{
		Debug: a.config.Debug,
	}, access.WithControllerLoggerProvider(a.loggerProvider()))
	controller.RegisterRoutes(srv.Router().Group("/api"))

	return srv
}

// MetricsServer exposes the registry, or returns nil when METRICS_ADDR is empty.
func (a *App) MetricsServer() *http.Server {
	if a.config.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              a.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close releases database and redis connections.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
