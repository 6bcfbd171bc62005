// Command graphscopeproxy runs the GraphScopeProxy HTTP service: a reverse proxy in front of Microsoft Graph that
// constrains each authenticated caller to the resource scope derived from a directory group.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/portico-estate/graphscopeproxy/internal/api"
	"github.com/portico-estate/graphscopeproxy/internal/apierrors"
	"github.com/portico-estate/graphscopeproxy/internal/config"
	"github.com/portico-estate/graphscopeproxy/internal/graphclient"
	"github.com/portico-estate/graphscopeproxy/internal/httputil"
	"github.com/portico-estate/graphscopeproxy/internal/proxy"
	"github.com/portico-estate/graphscopeproxy/internal/resource"
	"github.com/portico-estate/graphscopeproxy/internal/scope"
	"github.com/portico-estate/graphscopeproxy/internal/token"
	"github.com/portico-estate/graphscopeproxy/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// server holds the shared dependencies used by route handlers and middleware.
type server struct {
	cfg         *config.Config
	tokens      *token.Service
	scopeCache  scope.Cache
	publishInv  func(ctx context.Context, groupID string) error
	resolver    *scope.Resolver
	proxy       *proxy.Proxy
	credential  *graphclient.Credential
	healthCache api.CachePinger
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting GraphScopeProxy")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	credential, err := graphclient.NewCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, "")
	if err != nil {
		return fmt.Errorf("create graph credential: %w", err)
	}

	members := graphclient.NewMemberClient(cfg.UpstreamBase, credential, cfg.EnumerationTimeout)
	var places scope.PlacesSource
	if cfg.UsePlacesApi {
		places = graphclient.NewPlacesClient(cfg.UpstreamBase, credential, cfg.EnumerationTimeout)
	}

	buildCfg := scope.BuildConfig{
		AllowedPlaceTypes:     resource.ParseAllowedPlaceTypes(cfg.AllowedPlaceTypes),
		AllowGenericResources: cfg.AllowGenericResources,
		MaxScopeSize:          cfg.MaxScopeSize,
		UsePlacesApi:          cfg.UsePlacesApi,
		ScopeTTL:              cfg.ScopeCacheTTL,
	}
	builder := scope.NewBuilder(members, places, buildCfg)

	var (
		scopeCache  scope.Cache
		healthCache api.CachePinger = api.AlwaysHealthyCache
		publishInv  func(ctx context.Context, groupID string) error
		rdb         *redis.Client
	)
	switch cfg.CacheBackend {
	case "distributed":
		rdb, err = valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout, cfg.ValkeyPoolSize)
		if err != nil {
			return fmt.Errorf("connect valkey: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		log.Info().Msg("Valkey connected")

		valkeyCache := scope.NewValkeyCache(rdb)
		scopeCache = valkeyCache
		healthCache = valkeyPinger{client: rdb}

		publisher := scope.NewPublisher(rdb)
		publishInv = publisher.Invalidate

		subscriber := scope.NewSubscriber(valkeyCache, rdb)
		go runWithBackoff(subCtx, "scope-invalidation-subscriber", subscriber.Run)
	default:
		scopeCache = scope.NewMemCache(4096, cfg.ScopeCacheTTL)
		log.Info().Msg("Using in-process scope cache (CacheBackend=memory); group invalidation is local to this instance only")
	}

	if rdb == nil {
		// The revocation set always needs a Valkey connection regardless of CacheBackend, since it's the only
		// concurrent-safe, self-expiring store the token service is grounded on.
		rdb, err = valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout, cfg.ValkeyPoolSize)
		if err != nil {
			return fmt.Errorf("connect valkey: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		log.Info().Msg("Valkey connected (revocation set)")
	}

	tokens := token.NewService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience, time.Duration(cfg.JWTExpirationSeconds)*time.Second, rdb)
	resolver := scope.NewResolver(scopeCache, builder, log.Logger)
	upstreamProxy := proxy.New(cfg.UpstreamBase, credential, cfg.UpstreamTimeout)

	srv := &server{
		cfg:         cfg,
		tokens:      tokens,
		scopeCache:  scopeCache,
		publishInv:  publishInv,
		resolver:    resolver,
		proxy:       upstreamProxy,
		credential:  credential,
		healthCache: healthCache,
	}

	app := fiber.New(fiber.Config{
		AppName: "GraphScopeProxy",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			apiCode := apierrors.InternalError
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				apiCode = fiberStatusToAPICode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{
					Code:       apiCode,
					Message:    message,
					StatusCode: status,
					Path:       c.Path(),
				},
			})
		},
	})

	app.Use(requestid.New())
	if cfg.LogHealthRequests {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(httputil.RequestLogger(log.Logger, "/admin/health"))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Correlation-ID", "X-Admin-Key"},
		ExposeHeaders: []string{"X-Request-ID", "X-Correlation-ID"},
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	srv.registerRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *server) registerRoutes(app *fiber.App) {
	authHandler := api.NewAuthHandler(s.cfg, s.resolver, s.tokens, log.Logger)
	authGroup := app.Group("/auth")
	authGroup.Use(limiter.New(limiter.Config{
		Max:        s.cfg.RateLimitAuthCount,
		Expiration: time.Duration(s.cfg.RateLimitAuthWindowSeconds) * time.Second,
	}))
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/refresh", api.RequireBearer(s.tokens, s.scopeCache, log.Logger), authHandler.Refresh)
	authGroup.Post("/logout", api.RequireBearer(s.tokens, s.scopeCache, log.Logger), authHandler.Logout)

	healthHandler := api.NewHealthHandler(s.healthCache, s.credential)
	app.Get("/admin/health", healthHandler.Health)

	adminHandler := api.NewAdminHandler(s.scopeCache, s.publishInv, log.Logger)
	adminGroup := app.Group("/admin", api.RequireAdminKey(s.cfg.AdminKey))
	adminGroup.Post("/refresh/:groupId", adminHandler.RefreshGroup)

	proxyHandler := api.NewProxyHandler(s.proxy, log.Logger)
	proxyAuth := api.RequireBearer(s.tokens, s.scopeCache, log.Logger)
	for _, versionPrefix := range []string{"/v1.0", "/beta"} {
		versionGroup := app.Group(versionPrefix, proxyAuth)
		versionGroup.Get("/*", proxyHandler.Dispatch)
		versionGroup.Post("/*", proxyHandler.Dispatch)
		versionGroup.Put("/*", proxyHandler.Dispatch)
		versionGroup.Patch("/*", proxyHandler.Dispatch)
		versionGroup.Delete("/*", proxyHandler.Dispatch)
	}

	// Catch-all for unmatched routes; without this Fiber v3 treats the app.Use() middleware above as a route match
	// and returns 200 with an empty body for unknown paths.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil, non-cancelled
// error. If fn returns nil or context.Canceled the goroutine exits. The delay starts at 1 second and doubles on each
// consecutive failure up to a 2-minute cap.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("Background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest wire
// error code.
func fiberStatusToAPICode(status int) apierrors.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.NotFound
	case fiber.StatusMethodNotAllowed:
		return apierrors.ValidationError
	case fiber.StatusTooManyRequests:
		return apierrors.RateLimited
	case fiber.StatusServiceUnavailable:
		return apierrors.ServiceUnavailable
	default:
		if status >= 400 && status < 500 {
			return apierrors.ValidationError
		}
		return apierrors.InternalError
	}
}

// valkeyPinger adapts *redis.Client to api.CachePinger.
type valkeyPinger struct{ client *redis.Client }

func (p valkeyPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
