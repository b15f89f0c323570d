package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apiecho "github.com/oldmartijntje/oldmartijntje.nl-api-sub000/api/echo"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/cache"
	cacheredis "github.com/oldmartijntje/oldmartijntje.nl-api-sub000/cache/redis"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/config"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/auth"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/metrics"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/middleware"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/mongodb"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/ratelimit"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/securityflag"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg)
	metrics.Init(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	db := client.Database(cfg.MongoDBName)

	sessionRepo, err := mongodb.NewRateLimitSessionRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session repository")
	}
	flagRepo, err := mongodb.NewSecurityFlagRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize security flag repository")
	}
	tokenRepo, err := mongodb.NewSessionTokenRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token repository")
	}
	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize user repository")
	}
	forumRepo, err := mongodb.NewForumRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize forum repository")
	}

	sessionCache := cache.NewSessionCache(sessionRepo, cache.SessionCacheConfig{
		SyncInterval:      cfg.SyncInterval(),
		SweepInterval:     cfg.EvictionSweep(),
		EvictionAge:       cfg.EvictionAge(),
		CreationExemptAge: cfg.AccountCreationCooldown(),
	})
	sessionCache.Warm(ctx)
	sessionCache.Start()

	tokenCache := newTokenCache(cfg)

	emitter := securityflag.NewEmitter(flagRepo)
	limiter := ratelimit.NewLimiter(sessionCache, emitter, ratelimit.Config{
		RateLimitPerMinute:      cfg.RateLimitPerMinute,
		BlacklistLimitPerMinute: cfg.BlacklistLimitPerMinute,
		ResetWindow:             cfg.ResetWindow(),
		FlagSuppression:         cfg.FlagSuppression(),
	})
	creationLimiter := ratelimit.NewCreationLimiter(sessionCache, cfg.AccountCreationCooldown())

	hasher := auth.NewBcryptPasswordHasher(0)
	tokenService := services.NewTokenService(tokenRepo, userRepo, tokenCache, cfg.SessionTokenExpiration())
	authService := services.NewAuthService(userRepo, tokenService, hasher, emitter, creationLimiter, cfg.ActionCooldown())
	forumService := services.NewForumService(forumRepo, hasher, emitter, creationLimiter, cfg.ActionCooldown())

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RateLimit(limiter))

	api := apiecho.NewAPI(authService, forumService, flagRepo, func(ctx context.Context) error {
		return mongodb.Ping(ctx, client)
	})
	api.RegisterRoutes(e, tokenService)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Str("port", cfg.HTTPPort).Msg("Server started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop taking requests first, then drain state: the cache's final flush
	// and the emitter's queue must survive until everything is written.
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}
	if err := sessionCache.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Session cache shutdown flush failed")
	}
	emitter.Shutdown()
	if err := tokenCache.Close(); err != nil {
		log.Error().Err(err).Msg("Token cache close error")
	}
	mongodb.Close(shutdownCtx, client)
}

func setupLogging(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func newTokenCache(cfg *config.ServerConfig) cache.TokenCache {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryTokenCache()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis token cache")
	return cacheredis.NewTokenCache(client, "oldmartijntje")
}
