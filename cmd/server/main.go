package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/yourusername/candlecore/internal/api/handlers"
	"github.com/yourusername/candlecore/internal/collector"
	"github.com/yourusername/candlecore/internal/config"
	"github.com/yourusername/candlecore/internal/exchange"
	"github.com/yourusername/candlecore/internal/overlap"
	"github.com/yourusername/candlecore/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := repository.Connect(cfg.Database.URI, cfg.Database.Database)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer db.Close()
	log.Println("Connected to MongoDB successfully")

	candleRepo := repository.NewCandleRepository(db)

	rateLimiter := exchange.NewRateLimiter(exchange.RateLimitConfig{
		Limit:      cfg.Exchange.RateLimitCalls,
		PeriodMs:   cfg.Exchange.RateLimitPeriodMs,
		MinDelayMs: cfg.Exchange.MinDelayMs,
	})
	exchangeClient, err := exchange.NewCCXTClient(cfg.Exchange.ID, rateLimiter)
	if err != nil {
		log.Fatalf("Failed to initialize exchange client: %v", err)
	}
	defer exchangeClient.Close()

	analyzer := overlap.New(candleRepo)
	processor := &collector.ChunkProcessor{Repo: candleRepo, Analyzer: analyzer, Client: exchangeClient}
	coordinator := collector.NewCoordinator(processor, candleRepo)
	coordinator.ChunkMax = cfg.Collector.ChunkMax
	coordinator.Retry = collector.RetryPolicy{
		MaxAttempts:        cfg.Collector.MaxChunkRetries,
		BaseBackoffSeconds: cfg.Collector.RetryBaseBackoffSeconds,
		MaxBackoffSeconds:  cfg.Collector.RetryMaxBackoffSeconds,
		BackoffMultiplier:  cfg.Collector.RetryBackoffMultiplier,
	}
	if metadata, err := exchange.GetMetadata(cfg.Exchange.ID); err != nil {
		log.Printf("could not fetch exchange metadata, keeping configured chunk max: %v", err)
	} else if metadata.OHLCVLimit < coordinator.ChunkMax {
		log.Printf("capping chunk max to exchange OHLCV limit %d (configured %d)", metadata.OHLCVLimit, coordinator.ChunkMax)
		coordinator.ChunkMax = metadata.OHLCVLimit
	}

	app := fiber.New(fiber.Config{
		AppName:      "CandleCore API",
		ServerHeader: "CandleCore",
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	healthHandler := handlers.NewHealthHandler(db, exchangeClient)
	candleHandler := handlers.NewCandleHandler(coordinator, candleRepo, rateLimiter, cfg.HistoricalData)

	app.Get("/health", healthHandler.GetHealth)

	api := app.Group("/api/v1")
	api.Get("/health", healthHandler.GetHealth)
	api.Get("/candles", candleHandler.GetCandles)
	api.Get("/candles/quality", candleHandler.GetQuality)
	api.Get("/candles/stats", candleHandler.GetStats)
	api.Post("/candles/backfill", candleHandler.PostBackfill)

	address := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting server on %s", address)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(address); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
