// Worker sweeps invalidated session rows past their retention window.
// Set DATABASE_URL, SWEEP_INTERVAL, and SWEEP_RETENTION.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"jwt-session-auth/internal/config"
	"jwt-session-auth/internal/db"
	"jwt-session-auth/internal/security"
	sessionrepo "jwt-session-auth/internal/session/repository"
	sessionservice "jwt-session-auth/internal/session/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "jwt-session-auth-worker").Logger()

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

	tokens := security.NewTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL(), security.NewMemoryBlocklist())
	sessions := sessionrepo.NewPostgresRepository(database, codec)
	manager := sessionservice.NewManager(sessions, tokens, security.NewKeyPairGenerator(cfg.RSAKeyBits))

	interval := cfg.SweepIntervalDuration()
	retention := cfg.SweepRetentionDuration()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info().Msg("worker: shutting down...")
		cancel()
	}()

	logger.Info().Dur("interval", interval).Dur("retention", retention).Msg("worker: sweeping invalid sessions")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sweepCtx, sweepCancel := context.WithTimeout(ctx, time.Minute)
		removed, err := manager.PruneInvalid(sweepCtx, retention)
		sweepCancel()
		if err != nil {
			logger.Error().Err(err).Msg("worker: sweep failed")
		} else if removed > 0 {
			logger.Info().Int64("removed", removed).Msg("worker: pruned invalid sessions")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("worker: stopped")
			return
		case <-ticker.C:
		}
	}
}
