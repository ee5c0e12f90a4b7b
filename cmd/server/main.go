package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"jwt-session-auth/internal/auth"
	"jwt-session-auth/internal/config"
	"jwt-session-auth/internal/db"
	"jwt-session-auth/internal/security"
	"jwt-session-auth/internal/server"
	"jwt-session-auth/internal/server/handler"
	sessionrepo "jwt-session-auth/internal/session/repository"
	sessionservice "jwt-session-auth/internal/session/service"
	userrepo "jwt-session-auth/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "jwt-session-auth").Logger()
	if cfg.Env == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	defer database.Close()

	encKey, err := cfg.PrivateKeyEncKeyBytes()
	if err != nil {
		logger.Fatal().Err(err).Msg("private key encryption key")
	}
	codec, err := security.NewKeyCodec(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("key codec")
	}

	var blocklist security.Blocklist
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis")
		}
		defer client.Close()
		blocklist = security.NewRedisBlocklist(client)
	} else {
		logger.Warn().Msg("REDIS_ADDR not set; using in-process token blocklist")
		blocklist = security.NewMemoryBlocklist()
	}

	tokens := security.NewTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL(), blocklist)
	users := userrepo.NewPostgresRepository(database)
	sessions := sessionrepo.NewPostgresRepository(database, codec)
	manager := sessionservice.NewManager(sessions, tokens, security.NewKeyPairGenerator(cfg.RSAKeyBits))
	authSvc := auth.NewService(users, security.NewHasher(cfg.BcryptCost), manager, nil)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := server.NewRouter(server.RouterDeps{
		AuthHandler: handler.NewAuthHandler(authSvc, manager, logger),
		Sessions:    manager,
		Tokens:      tokens,
		Users:       users,
		Logger:      logger,
		PathPrefix:  cfg.PathPrefix,
		Registry:    registry,
		DB:          database,
	})

	srv := server.New(cfg.HTTPAddr, router)

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("prefix", cfg.PathPrefix).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil {
			logger.Fatal().Err(err).Msg("serve")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down http server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("http server stopped")
}
