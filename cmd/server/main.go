package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rpg-server/internal/ai"
	"rpg-server/internal/clients"
	"rpg-server/internal/config"
	"rpg-server/internal/database"
	"rpg-server/internal/engine"
	"rpg-server/internal/handler"
	"rpg-server/internal/logger"
	"rpg-server/internal/messaging"
	"rpg-server/internal/service"
	"rpg-server/migrations"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	dbPool, err := setupDatabase(ctx, cfg)
	cancel()
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()
	zapLogger.Info("Connected to PostgreSQL")

	if err := database.ApplyMigrations(dbPool, migrations.FS, ".", zapLogger); err != nil {
		zapLogger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zapLogger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Connected to RabbitMQ")

	turnUpdatePublisher, err := messaging.NewRabbitMQTurnUpdatePublisher(rabbitConn, cfg.TurnUpdatesQueueName, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create turn update publisher", zap.Error(err))
	}

	aiClient, err := ai.NewClient(ai.Config{
		ClientType: cfg.AIClientType,
		BaseURL:    cfg.AIBaseURL,
		APIKey:     cfg.AIAPIKey,
		Model:      cfg.AIModel,
		Timeout:    cfg.AITimeout,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create AI client", zap.Error(err))
	}

	contentClient := clients.NewHTTPContentClient(cfg.ContentServiceURL, zapLogger)
	contextClient := clients.NewHTTPContextClient(cfg.ContextServiceURL, zapLogger)

	// Persistence and commit boundary.
	eventRepo := database.NewPgEventRepository(zapLogger)
	projectionRepo := database.NewPgProjectionRepository(zapLogger)
	transcriptRepo := database.NewPgTranscriptRepository(zapLogger)
	projectionCache := database.NewRedisProjectionCache(redisClient, cfg.ProjectionCacheTTL, zapLogger)
	commitBoundary := database.NewPgCommitBoundary(dbPool, eventRepo, projectionRepo, transcriptRepo, cfg.SnapshotEvery, zapLogger)

	// Stage pipeline. Model-backed stages go through the reliability wrapper;
	// deterministic stages run bare.
	prompts := engine.NewPromptBuilder(contextClient, cfg.ContextTokens, zapLogger)
	stages := engine.Stages{
		Router: engine.NewRouterStage(
			engine.NewWrapper("router", engine.NewAIGenerator(aiClient, 512), cfg.GenMaxAttempts, cfg.AITimeout, zapLogger), zapLogger),
		Mechanic:  engine.NewMechanicStage(zapLogger),
		Encounter: engine.NewEncounterStage(contentClient, zapLogger),
		WorldSim:  engine.NewWorldSimStage(zapLogger),
		Reaction:  engine.NewReactionStage(zapLogger),
		Director: engine.NewDirectorStage(
			engine.NewWrapper("director", engine.NewAIGenerator(aiClient, 1024), cfg.GenMaxAttempts, cfg.AITimeout, zapLogger), prompts, zapLogger),
		Narrator: engine.NewNarratorStage(
			engine.NewWrapper("narrator", engine.NewAIGenerator(aiClient, 1024), cfg.GenMaxAttempts, cfg.AITimeout, zapLogger), zapLogger),
		Meta: engine.NewMetaStage(zapLogger),
	}
	orchestrator := engine.NewOrchestrator(stages, commitBoundary, contentClient, cfg.TurnBudget, zapLogger)

	turnService := service.NewTurnService(orchestrator, commitBoundary, commitBoundary,
		dbPool, projectionRepo, transcriptRepo, projectionCache, turnUpdatePublisher, zapLogger)
	turnHandler := handler.NewTurnHandler(turnService, zapLogger)

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestID())
	turnHandler.RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	zapLogger.Info("Turn engine server listening", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
	zapLogger.Info("Turn engine server stopped")
}

func setupDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MaxConnIdleTime = cfg.DBIdleTimeout
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// connectRabbitMQ retries the connection a few times so service start order
// doesn't matter in compose setups.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("maxAttempts", maxRetries),
			zap.Error(err))
		time.Sleep(retryDelay)
	}
	return nil, err
}
