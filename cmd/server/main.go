package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/config"
	"pdv/backend/internal/events"
	"pdv/backend/internal/httpapi"
	"pdv/backend/internal/logging"
	"pdv/backend/internal/metrics"
	"pdv/backend/internal/service"
	"pdv/backend/internal/store"
	"pdv/backend/internal/store/memory"
	pgstore "pdv/backend/internal/store/postgres"
	"pdv/backend/internal/store/sqlite"
	"pdv/backend/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	}

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store unavailable, refusing to start")
	}
	closers := []func() error{closeRepo}
	logger.Info().Str("driver", cfg.StoreDriver).Msg("repository ready")

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, report cache disabled")
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Str("addr", cfg.RedisAddr).Msg("report cache: redis")
		}
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewBreaker(events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}), events.DefaultBreakerConfig("kafka"))
		closers = append(closers, publisher.Close)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("events: kafka")
	}

	m := metrics.New("pdv")
	svc := service.New(repo, service.Options{
		Cache:             reportCache,
		Publisher:         publisher,
		Metrics:           m,
		Logger:            &logger,
		UnitOfWorkTimeout: cfg.UnitOfWorkTimeout(),
		SaleCodePrefix:    cfg.SaleCodePrefix,
		SaleCodeAttempts:  cfg.SaleCodeAttempts,
		ReportTopN:        cfg.ReportTopN,
		ReportCacheTTL:    cfg.ReportCacheTTL(),
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, m, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("POS backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown error")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

// openRepository builds the configured store. SQL stores get the seed
// accounts whose SEED_*_PASSWORD is set; they never fall back to dev
// passwords.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn().Msg("using the in-memory store, data is lost on restart")
		return memory.NewSeeded(), func() error { return nil }, nil
	case config.DriverPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.LockTimeout())
		if err != nil {
			return nil, nil, err
		}
		if err := ensureSeedUsers(ctx, pg); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case config.DriverSQLite:
		lite, err := sqlite.New(ctx, cfg.SQLitePath, cfg.LockTimeout())
		if err != nil {
			return nil, nil, err
		}
		if err := ensureSeedUsers(ctx, lite); err != nil {
			_ = lite.Close()
			return nil, nil, err
		}
		return lite, lite.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func ensureSeedUsers(ctx context.Context, repo store.Repository) error {
	for _, user := range memory.SeedUsers(false) {
		if err := repo.EnsureUser(ctx, user); err != nil {
			return fmt.Errorf("seed user %s: %w", user.Username, err)
		}
	}
	return nil
}
