package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ci-deploys/deploys"
	"ci-deploys/deploys/application"
	"ci-deploys/deploys/domain"
	"ci-deploys/deploys/infra"

	"github.com/redis/go-redis/v9"
)

func main() {
	flags := newCLIFlags()
	_ = flags.set.Parse(os.Args[1:])
	secretsPath := flags.secrets

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// o manifesto vem antes do resto da config: ele pode exportar RESET_PASSWORD, REDIS_URL etc.
	manifest, err := infra.LoadManifest(*secretsPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		manifest = nil
	case err != nil:
		log.Fatalf("secrets error: %v", err)
	default:
		if err := manifest.ApplyEnv(); err != nil {
			log.Fatalf("secrets error: %v", err)
		}
		logger.Info("secrets manifest loaded", "path", *secretsPath, "credentials", len(manifest.Credentials))
	}

	cfg := readConfig()
	flags.apply(&cfg)
	if err := cfg.validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	targets := cfg.targets
	if manifest != nil && len(manifest.Targets) > 0 {
		targets = manifest.Targets
	}
	poolSource := infra.ManifestPool{Path: *secretsPath, Fallback: cfg.targets}
	if len(targets) == 0 {
		logger.Warn("deploy pool is empty; every reservation will fail")
	}

	var store domain.Store
	switch cfg.backend {
	case backendRedis:
		rdb, err := newRedisClient(cfg)
		if err != nil {
			log.Fatalf("redis config error: %v", err)
		}
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.redisTimeout)
		_, err = rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
		store = infra.NewRedisStore(rdb, targets,
			infra.WithKeyPrefix(cfg.redisKeyPrefix),
			infra.WithOpTimeout(cfg.redisTimeout),
		)
	case backendFile:
		store = infra.NewFileStore(cfg.configPath, poolSource)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	err = store.InitializeIfAbsent(initCtx)
	cancelInit()
	if err != nil {
		log.Fatalf("pool init error: %v", err)
	}

	alloc := application.NewAllocator(store,
		application.WithLogger(logger),
		application.WithPoolSource(poolSource),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	throttle := infra.NewThrottle(cfg.resetRPS, cfg.resetBurst)
	throttle.StartJanitor(ctx)

	h := deploys.NewHandler(deploys.Options{
		Allocator:     alloc,
		ResetPassword: cfg.resetPassword,
		ResetGuard: deploys.ThrottleMiddleware(deploys.ThrottleOptions{
			Throttler:          throttle,
			TrustXForwardedFor: cfg.trustXFF,
		}),
		Logger: logger,
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("ci-deploys listening on %s", cfg.listenAddr)
	log.Printf("pool: backend=%s targets=%d manifest=%v", cfg.backend, len(targets), manifest != nil)
	log.Printf("reset: enabled=%v rps=%.3f burst=%d trustXFF=%v", cfg.resetPassword != "", cfg.resetRPS, cfg.resetBurst, cfg.trustXFF)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func newRedisClient(cfg config) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.redisAddr,
		Password: cfg.redisPassword,
		DB:       cfg.redisDB,
	}
	if cfg.redisURL != "" {
		parsed, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	}
	opts.DialTimeout = cfg.redisTimeout
	opts.ReadTimeout = cfg.redisTimeout
	opts.WriteTimeout = cfg.redisTimeout
	return redis.NewClient(opts), nil
}
