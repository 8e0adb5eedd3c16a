package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	c "github.com/fjod/go_cart/cart-service/internal/cache"
	"github.com/fjod/go_cart/cart-service/internal/config"
	carthttp "github.com/fjod/go_cart/cart-service/internal/http"
	"github.com/fjod/go_cart/cart-service/internal/identity"
	"github.com/fjod/go_cart/cart-service/internal/poller"
	"github.com/fjod/go_cart/cart-service/internal/repository"
	s "github.com/fjod/go_cart/cart-service/internal/service"
	"github.com/fjod/go_cart/pkg/logger"
	"github.com/fjod/go_cart/pkg/pricing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	zap.ReplaceGlobals(zlog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up MongoDB connection
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		zlog.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	repo := repository.NewMongoRepository(mongoDB)
	if err := repository.EnsureIndexes(ctx, repo); err != nil {
		zlog.Fatal("Failed to create indexes", zap.Error(err))
	}
	zlog.Info("Connected to MongoDB", zap.String("uri", cfg.MongoURI))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zlog.Fatal("Redis connection failed", zap.Error(err))
	}
	zlog.Info("Redis ping succeeded", zap.String("addr", cfg.RedisAddr))

	policy := pricing.DefaultPolicy()
	policy.FloorTotalAtZero = cfg.FloorTotalAtZero

	cache := c.NewRedisCache(redisClient)
	service := s.NewCartService(repo, cache,
		s.WithPolicy(policy),
		s.WithGuestTTL(cfg.GuestCartTTL),
		s.WithAbandonAfter(cfg.AbandonAfter),
		s.WithLogger(zlog),
	)

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		service.RunSweeper(ctx, cfg.SweepInterval)
	}()

	checkoutPoller := poller.NewPoller(service, zlog.Named("poller"), cfg.KafkaBrokers...)
	go func() {
		defer workers.Done()
		checkoutPoller.Run(ctx)
	}()

	handler := carthttp.NewCartHandler(service, cfg.RequestTimeout)
	router := carthttp.NewRouter(handler, carthttp.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		Verifier:           identity.NewTokenVerifier(cfg.JWTSecret),
		Log:                zlog,
		HealthChecks: map[string]carthttp.HealthCheck{
			"mongodb": func(ctx context.Context) error { return repository.Ping(ctx, mongoDB) },
			"redis":   cache.Ping,
		},
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: router,
	}

	go func() {
		zlog.Info("Cart service listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("Failed to serve", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zlog.Info("Shutting down cart service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("HTTP shutdown failed", zap.Error(err))
	}
	workers.Wait()
	checkoutPoller.Close()
	service.Wait()

	if err := redisClient.Close(); err != nil {
		zlog.Warn("Redis close failed", zap.Error(err))
	}
	if err := mongoDB.Client().Disconnect(shutdownCtx); err != nil {
		zlog.Warn("MongoDB disconnect failed", zap.Error(err))
	}
	zlog.Info("Cart service stopped")
}
