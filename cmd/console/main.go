package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/authz"
	"github.com/nortide/console-auth/internal/config"
	httptransport "github.com/nortide/console-auth/internal/http"
	"github.com/nortide/console-auth/internal/http/handler"
	httpmiddleware "github.com/nortide/console-auth/internal/http/middleware"
	"github.com/nortide/console-auth/internal/provider"
	"github.com/nortide/console-auth/internal/relay"
	"github.com/nortide/console-auth/internal/server"
	"github.com/nortide/console-auth/internal/session"
	"github.com/nortide/console-auth/internal/telemetry"
	"github.com/nortide/console-auth/internal/tenant"
	"github.com/nortide/console-auth/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSessionStore,
			newRelayBus,
			newProviderClient,
			newCoordinator,
			newVerifier,
			newTenantResolver,
			newRateLimiter,
			newAuthzHandler,
			handler.NewConsentHandler,
			handler.NewWebAuthnHandler,
			handler.NewPasskeysHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

// newSessionStore prefers Redis so pending attempts survive restarts; with
// no Redis configured the process-local store is used.
func newSessionStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (session.Store, error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	logger.Info("using redis session store", zap.String("addr", cfg.RedisAddr))
	return session.NewRedisStore(client), nil
}

func newRelayBus(cfg config.Config, logger *zap.Logger) *relay.Bus {
	return relay.NewBus(cfg.AllowedOrigins, logger)
}

func newProviderClient() provider.Client {
	return provider.NewHTTPClient(nil)
}

func newCoordinator(store session.Store, bus *relay.Bus, cfg config.Config, logger *zap.Logger) *authz.Coordinator {
	return authz.NewCoordinator(store, bus, cfg.SessionTTL, cfg.CallbackWindow, logger)
}

func newVerifier(cfg config.Config) *token.Verifier {
	return token.NewVerifier(nil, cfg.JWKSCacheTTL, nil)
}

func newTenantResolver(cfg config.Config) (*tenant.Resolver, error) {
	return tenant.NewResolver(tenant.Config{
		BaseDomain:      cfg.BaseDomain,
		IssuerTemplate:  cfg.IssuerTemplate,
		DefaultTenant:   cfg.DefaultTenant,
		DefaultClientID: cfg.ClientID,
		Overrides:       cfg.TenantOverrides,
	})
}

func newRateLimiter(cfg config.Config) *httpmiddleware.RateLimiter {
	return httpmiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newAuthzHandler(coordinator *authz.Coordinator, providerClient provider.Client, verifier *token.Verifier, bus *relay.Bus, cfg config.Config, logger *zap.Logger) *handler.AuthzHandler {
	relayOrigin := ""
	if len(cfg.AllowedOrigins) > 0 {
		relayOrigin = cfg.AllowedOrigins[0]
	}
	return handler.NewAuthzHandler(coordinator, providerClient, verifier, bus, cfg.RedirectURI, relayOrigin, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
