package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cyclecal/internal/auth"
	"cyclecal/internal/cache"
	"cyclecal/internal/config"
	"cyclecal/internal/db"
	"cyclecal/internal/event"
	"cyclecal/internal/logger"
	"cyclecal/internal/model"
	"cyclecal/internal/notify"
	"cyclecal/internal/proxy"
	"cyclecal/internal/server"
	"cyclecal/internal/upstream"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()
	log := logger.Must(cfg.Env)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	database, err := db.NewDB(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if cfg.Auth.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD not set, admin user will not be seeded")
	}
	if err := db.MigrateDB(ctx, database.DB, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword, log); err != nil {
		return err
	}

	eventRepo, err := db.NewEventRepository(database.DB)
	if err != nil {
		return err
	}
	defer eventRepo.Close()
	userRepo, err := db.NewUserRepository(database.DB, log)
	if err != nil {
		return err
	}

	events, regs, closeCaches, err := newCaches(ctx, cfg.Cache, log)
	if err != nil {
		return err
	}
	defer closeCaches()

	breaker := upstream.BreakerSettings{
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}
	upstreamHTTP := &http.Client{Timeout: cfg.Upstream.Timeout}

	publisher := notify.Publisher(notify.Nop{})
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		log.Info("publishing changes to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	svc := event.NewService(event.Opts{
		Repo:          eventRepo,
		Events:        events,
		Registrations: regs,
		Results:       upstream.NewResultsClient(cfg.Upstream.ResultsBaseURL, upstreamHTTP, breaker, log),
		Source:        upstream.NewEventSourceClient(cfg.Upstream.EventSourceURL, upstreamHTTP, breaker, log),
		Publisher:     publisher,
		Logger:        log,
	})

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		log.Warn("JWT_SECRET_KEY not set, generating a random secret; tokens will not survive restarts")
		jwtSecret = db.GenerateID()
	}

	srv := server.NewServer(server.Opts{
		Events: svc,
		Users:  userRepo,
		Tokens: auth.NewTokenAuth([]byte(jwtSecret), cfg.Auth.TokenTTL),
		Proxy: proxy.New(proxy.Config{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			SecuredBases:   cfg.Proxy.SecuredBases,
			APIKey:         cfg.Proxy.APIKey,
			APIKeyHeader:   cfg.Proxy.APIKeyHeader,
		}, upstreamHTTP, log),
		Logger:         log,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimit:      cfg.RateLimit.Limit,
		RateBurst:      cfg.RateLimit.Burst,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.HTTP.Address)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

// newCaches builds the event-list and registration caches for the
// configured backend.
func newCaches(ctx context.Context, cfg config.Cache, log *zap.Logger) (cache.Cache[[]model.Event], cache.Cache[upstream.Registrations], func(), error) {
	switch cfg.Backend {
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("using redis cache", zap.String("addr", cfg.RedisAddr))
		return cache.Instrument[[]model.Event]("events", cache.NewRedis[[]model.Event](client, "events", cfg.TTL, log)),
			cache.Instrument[upstream.Registrations]("registrations", cache.NewRedis[upstream.Registrations](client, "registrations", cfg.TTL, log)),
			func() { closeRedis(client, log) },
			nil
	case "", "memory":
		return cache.Instrument[[]model.Event]("events", cache.NewTTL[[]model.Event](cfg.TTL)),
			cache.Instrument[upstream.Registrations]("registrations", cache.NewTTL[upstream.Registrations](cfg.TTL)),
			func() {},
			nil
	}
	return nil, nil, nil, errors.New("unknown cache backend " + cfg.Backend)
}

func closeRedis(client *redis.Client, log *zap.Logger) {
	if err := client.Close(); err != nil {
		log.Warn("failed to close redis client", zap.Error(err))
	}
}
