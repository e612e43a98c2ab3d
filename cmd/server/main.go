package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/elkanatum/tarpaulin-api/internal/auth"
	"github.com/elkanatum/tarpaulin-api/internal/blob"
	"github.com/elkanatum/tarpaulin-api/internal/clients"
	"github.com/elkanatum/tarpaulin-api/internal/config"
	"github.com/elkanatum/tarpaulin-api/internal/db"
	"github.com/elkanatum/tarpaulin-api/internal/events"
	tarpaulingrpc "github.com/elkanatum/tarpaulin-api/internal/grpc"
	internalhttp "github.com/elkanatum/tarpaulin-api/internal/http"
	"github.com/elkanatum/tarpaulin-api/internal/identity"
	"github.com/elkanatum/tarpaulin-api/internal/jobs"
	"github.com/elkanatum/tarpaulin-api/internal/logging"
)

func main() {
	if err := config.LoadDotenvIfPresent(); err != nil {
		log.Printf("dotenv load error: %v", err)
	}
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var checks []jobs.Check

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	checks = append(checks, jobs.Check{Name: "store", Ping: store.Ping})

	bucket, err := openBucket(cfg)
	if err != nil {
		return err
	}
	if s3Bucket, ok := bucket.(*blob.S3Bucket); ok {
		checks = append(checks, jobs.Check{Name: "blob", Ping: s3Bucket.Ping})
	}

	var cache identity.UserCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		cache = identity.NewRedisCache(redisClient, cfg.IdentityCacheTTL)
		checks = append(checks, jobs.Check{Name: "cache", Ping: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	var decoder auth.Decoder = auth.UnverifiedDecoder{}
	if cfg.JWKSURL != "" {
		keys := auth.NewRemoteKeySet(cfg.JWKSURL, cfg.JWKSRefresh, &http.Client{Timeout: cfg.IDPTimeout})
		decoder = auth.NewVerifyingDecoder(keys, cfg.JWTIssuer, cfg.JWTAudience)
	} else {
		logger.Warn("JWKS_URL not set: bearer token signatures are not verified")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		publisher = amqpPublisher
		checks = append(checks, jobs.Check{Name: "broker", Ping: amqpPublisher.Ping})
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("event publisher close error", zap.Error(err))
		}
	}()

	grpcServer, healthServer := tarpaulingrpc.NewServer(
		grpc.UnaryInterceptor(tarpaulingrpc.NewLoggingUnaryInterceptor(logger)),
	)
	probe := jobs.NewHealthProbe(tarpaulingrpc.ServiceName, healthServer, cfg.HealthProbeTimeout, logger, checks...)

	server, err := internalhttp.NewServer(cfg, internalhttp.Dependencies{
		Store:   store,
		Bucket:  bucket,
		Decoder: decoder,
		Cache:   cache,
		Login: clients.NewIdentityProvider(clients.IdentityProviderConfig{
			TokenURL:     cfg.IDPTokenURL,
			ClientID:     cfg.IDPClientID,
			ClientSecret: cfg.IDPClientSecret,
			Audience:     cfg.IDPAudience,
			Realm:        cfg.IDPRealm,
			Timeout:      cfg.IDPTimeout,
		}),
		Events: publisher,
		Health: probe,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("server init failed: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen error: %w", err)
	}

	probe.Start(ctx, cfg.HealthProbeInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(listener); err != nil {
			return fmt.Errorf("grpc server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (db.Store, func(), error) {
	if cfg.StoreBackend == "memory" {
		return db.NewMemoryStore(), func() {}, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connection failed: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db migration failed: %w", err)
	}
	return db.NewStore(pool), pool.Close, nil
}

func openBucket(cfg config.Config) (blob.Bucket, error) {
	if cfg.BlobBackend == "memory" {
		return blob.NewMemoryBucket(), nil
	}
	return blob.NewS3Bucket(blob.S3Config{
		Bucket:    cfg.BlobBucket,
		Endpoint:  cfg.BlobEndpoint,
		Region:    cfg.BlobRegion,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
	})
}
