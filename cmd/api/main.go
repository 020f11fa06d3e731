package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/api/handlers"
	"github.com/cellavenue/rag-backend/internal/cache/redis"
	"github.com/cellavenue/rag-backend/internal/llm"
	"github.com/cellavenue/rag-backend/internal/metrics"
	"github.com/cellavenue/rag-backend/internal/middleware/ratelimit"
	"github.com/cellavenue/rag-backend/internal/middleware/security"
	"github.com/cellavenue/rag-backend/internal/middleware/validation"
	"github.com/cellavenue/rag-backend/internal/query"
	"github.com/cellavenue/rag-backend/internal/session"
	"github.com/cellavenue/rag-backend/internal/storage/sqlite"
	"github.com/cellavenue/rag-backend/internal/vector/milvus"
	"github.com/cellavenue/rag-backend/pkg/config"
	appLogger "github.com/cellavenue/rag-backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting store assistant API server")

	metrics.Init()

	if err := cfg.Validate(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	sessions := session.NewMemoryStore(cfg.Retrieval.MaxHistoryTurns)

	var chatLog *sqlite.Client
	if cfg.SQLite.Path != "" {
		chatLog, err = sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Warn("Chat log disabled", zap.Error(err))
		} else {
			defer chatLog.Close()
			if err := chatLog.InitSchema(); err != nil {
				appLogger.Fatal("Failed to initialize chat log schema", zap.Error(err))
			}
		}
	}

	var embeddingCache llm.EmbeddingCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLHours)*time.Hour,
		)
		if err != nil {
			appLogger.Warn("Embedding cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			embeddingCache = redisClient
		}
	}

	llmClient := llm.NewClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.ChatModel,
		cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.Temperature,
		cfg.OpenAI.MaxTokens,
		embeddingCache,
	)

	// The chat endpoints answer 503 until the vector index is reachable.
	var engine *query.Engine
	vectorClient, err := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
	if err != nil {
		appLogger.Warn("Vector index unavailable, serving in degraded mode", zap.Error(err))
	} else {
		defer vectorClient.Close()
		engine = query.NewEngine(
			llmClient, llmClient, vectorClient,
			sessions, chatLog,
			cfg.Retrieval.TopK, cfg.Retrieval.FetchK,
		)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Session-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))
	app.Use(validation.Middleware(validation.Config{}))

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: 60})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	chatHandler := handlers.NewChatHandler(engine)
	wsHandler := handlers.NewWebSocketHandler(engine)
	sessionHandler := handlers.NewSessionHandler(sessions)
	systemHandler := handlers.NewSystemHandler(vectorClient, sessions, manifestDir(cfg))

	app.Post("/chat", chatHandler.HandleChat)
	app.Post("/chat/stream", chatHandler.HandleChatStream)
	app.Post("/session", sessionHandler.HandleCreate)
	app.Get("/health", systemHandler.HandleHealth)
	app.Get("/index-info", systemHandler.HandleIndexInfo)
	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

func manifestDir(cfg *config.Config) string {
	return cfg.Pipeline.DataDir + "/manifests"
}
