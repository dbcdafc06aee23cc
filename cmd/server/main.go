package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sdn-stats/internal/analytics"
	"sdn-stats/internal/cache"
	"sdn-stats/internal/config"
	"sdn-stats/internal/controlcenter"
	"sdn-stats/internal/handlers"
	"sdn-stats/internal/models"
	"sdn-stats/internal/monitor"
	"sdn-stats/internal/subscription"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.Println("Starting SDN stats service...")

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Latest-sample cache is optional
	var latest handlers.LatestStore
	var hook monitor.SampleHook
	if cfg.RedisEnabled() {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LatestTTL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()
		log.Println("Connected to Redis")

		writer := cache.NewLatestWriter(redisCache, 256, cfg.RequestTimeout)
		go writer.Run(ctx)

		latest = redisCache
		hook = func(s models.Sample) { writer.Enqueue(s) }
	} else {
		log.Println("REDIS_ADDR not set, latest-sample cache disabled")
	}

	backend := controlcenter.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.RequestTimeout)

	registry := monitor.NewRegistry(monitor.RegistryConfig{
		DeviceStatsURL: cfg.DeviceStatsURL,
		PortStatsURL:   cfg.PortStatsURL,
		IdleTimeout:    cfg.IdleTimeout,
	}, feedDialer(cfg.BackendToken), analytics.RealClock{}, hook)
	defer registry.Close()
	go registry.Run(ctx, cfg.ReapInterval)
	log.Printf("Watching feeds %s and %s, window %s, idle timeout %s\n",
		cfg.DeviceStatsURL, cfg.PortStatsURL, analytics.Retention, cfg.IdleTimeout)

	handler := handlers.NewHandler(registry, backend, latest)

	router := handler.Router()
	router.Handle("/prometheus", promhttp.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      gorillahandlers.LoggingHandler(os.Stdout, router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server listening on port %s\n", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

// feedDialer opens websocket subscriptions to the telemetry feeds. A backend
// token is sent with the handshake.
func feedDialer(token string) monitor.Dialer {
	var opts []subscription.Option
	if token != "" {
		opts = append(opts, subscription.WithHeader(http.Header{"Authorization": {"Token " + token}}))
	}

	return func(ctx context.Context, endpoint string) (monitor.Source, error) {
		sub, err := subscription.Open(ctx, endpoint, opts...)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}
