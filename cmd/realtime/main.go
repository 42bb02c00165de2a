package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor-realtime/internal/authcache"
	"github.com/computor-org/computor-realtime/internal/cache"
	"github.com/computor-org/computor-realtime/internal/config"
	"github.com/computor-org/computor-realtime/internal/middleware"
	"github.com/computor-org/computor-realtime/internal/realtime"
	"github.com/computor-org/computor-realtime/internal/server"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file applied over the environment")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		logger.SetLevel(level)
	}

	cfg := config.Load()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load config file")
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	redisClient := cache.NewRedisClient(cfg.Redis)
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx); err != nil {
		// Degraded start: reads fall through to the store, events are lost
		// until the connection recovers.
		logger.WithError(err).Warn("Redis unreachable at startup, running degraded")
	}
	cancel()

	keys := cache.NewKeys(cfg.Cache.Namespace)
	taggedCache := cache.NewTaggedCache(redisClient.Client(), keys, logger).
		WithOpTimeout(cfg.Cache.OpTimeout)
	prometheus.MustRegister(cache.NewCollector(taggedCache))

	// Locally signed JWTs are checked first; opaque API tokens fall through
	// to the platform's introspection endpoint.
	var stores []authcache.CredentialStore
	if cfg.Auth.JWTSecret != "" {
		stores = append(stores, authcache.NewJWTCredentialStore(cfg.Auth.JWTSecret))
	}
	if cfg.Auth.ValidateURL != "" {
		stores = append(stores, authcache.NewHTTPCredentialStore(cfg.Auth.ValidateURL, 5*time.Second))
	}
	tokenCache := authcache.NewTokenAuthCache(redisClient.Client(), authcache.NewFallbackStore(stores...), keys,
		cfg.Auth.TokenTTL, cfg.Auth.TrackingTTL, logger)

	manager := realtime.NewConnectionManager(channelAuthorizer(), cfg.Realtime.SendQueueSize, logger)
	presence := realtime.NewPresenceTracker(redisClient.Client(), keys, cfg.Realtime.PresenceTTL)

	broadcaster := realtime.NewBroadcaster(redisClient.Client(), manager, cfg.Realtime.Topic, logger)
	if err := broadcaster.Start(context.Background()); err != nil {
		logger.WithError(err).Warn("Broadcast listener not started, continuing without fan-in")
	}
	prometheus.MustRegister(realtime.NewCollector(manager, broadcaster))

	limiter := middleware.NewRateLimiter()
	defer limiter.Close()

	srv := server.New(cfg, server.Deps{
		Cache:    taggedCache,
		Auth:     tokenCache,
		Manager:  manager,
		Presence: presence,
		Limiter:  limiter,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown incomplete")
	}
	if err := broadcaster.Stop(); err != nil {
		logger.WithError(err).Error("Broadcast listener stop failed")
	}
	logger.Info("Shutdown complete")
}

// channelAuthorizer grants subscriptions from the principal's roles and
// scopes. Admin and lecturer roles see every channel; other principals are
// limited to the channels listed in their token's scopes.
func channelAuthorizer() realtime.Authorizer {
	return realtime.AuthorizerFunc(func(_ context.Context, principal realtime.Principal, channel string) bool {
		if principal.HasRole("_admin") || principal.HasRole("_lecturer") {
			return true
		}
		for _, scope := range principal.Scopes {
			if scope == channel {
				return true
			}
		}
		return false
	})
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
