package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sealedchat-backend/internal/database"
	"sealedchat-backend/internal/delivery"
	chatHandler "sealedchat-backend/internal/handler/http/chat"
	conversationHandler "sealedchat-backend/internal/handler/http/conversation"
	keysHandler "sealedchat-backend/internal/handler/http/keys"
	wsHandler "sealedchat-backend/internal/handler/ws"
	"sealedchat-backend/internal/middleware"
	"sealedchat-backend/internal/repository/cassandra"
	"sealedchat-backend/internal/repository/cockroach"
	"sealedchat-backend/internal/repository/redis"
	chatService "sealedchat-backend/internal/service/chat"
	conversationService "sealedchat-backend/internal/service/conversation"
	keysService "sealedchat-backend/internal/service/keys"
	"sealedchat-backend/pkg/config"
	"sealedchat-backend/pkg/jwt"
	"sealedchat-backend/pkg/logger"
	"sealedchat-backend/pkg/metrics"
)

const directoryCacheTTL = 10 * time.Minute

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Connect to CockroachDB
	cockroachDB, err := database.NewDB(ctx, cfg.Database.DSN(), database.DefaultDBConfig())
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()

	if err := cockroachDB.Migrate(ctx, cockroach.Schema); err != nil {
		logger.Fatal("Failed to migrate CockroachDB", zap.Error(err))
	}
	logger.Info("Connected to CockroachDB")

	// 3. Connect to Cassandra
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:       cfg.Cassandra.Hosts,
		Keyspace:    cfg.Cassandra.Keyspace,
		Username:    cfg.Cassandra.Username,
		Password:    cfg.Cassandra.Password,
		Consistency: cfg.Cassandra.Consistency,
		Timeout:     cfg.Cassandra.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()

	if cfg.Cassandra.Migrate {
		if err := cassandraDB.Migrate(ctx, cassandra.Schema); err != nil {
			logger.Fatal("Failed to migrate Cassandra", zap.Error(err))
		}
	}
	logger.Info("Connected to Cassandra")

	// 4. Connect to Redis with degraded mode support
	redisDB := database.NewRedisDB(&database.RedisConfig{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	defer redisDB.Close()

	go redisDB.StartHealthCheck(ctx, 10*time.Second)
	logger.Info("Redis health check started", zap.Duration("interval", 10*time.Second))

	// 5. Initialize repositories
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	keysRepo := cockroach.NewKeysRepository(cockroachDB.Pool)
	presenceRepo := redis.NewPresenceRepository(redisDB, cfg.Redis.PresenceTTL)
	typingRepo := redis.NewTypingRepository(redisDB, cfg.Redis.TypingTTL)
	directoryRepo := redis.NewDirectoryRepository(redisDB, directoryCacheTTL)
	eventBus := redis.NewEventBus(redisDB)

	// 6. Initialize services
	tracker := delivery.NewTracker(messageRepo, chatService.NewStatusNotifier(eventBus))

	chatSvc := chatService.NewService(messageRepo, conversationRepo, tracker, eventBus, chatService.Config{
		DeleteForAllWindow: cfg.Chat.DeleteForAllWindow,
		HistoryPageSize:    cfg.Chat.HistoryPageSize,
		HistoryMaxPageSize: cfg.Chat.HistoryMaxPageSize,
	})
	conversationSvc := conversationService.NewService(conversationRepo, messageRepo, eventBus, conversationService.Config{
		MaxGroupParticipants: cfg.Chat.MaxGroupParticipants,
		UnreadScanLimit:      cfg.Chat.UnreadScanLimit,
	})
	keysSvc := keysService.NewService(keysRepo, directoryRepo)

	// 7. Initialize metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 8. Initialize handlers
	chatHdlr := chatHandler.NewHandler(chatSvc)
	conversationHdlr := conversationHandler.NewHandler(conversationSvc)
	keysHdlr := keysHandler.NewHandler(keysSvc)

	// 9. Start the relay hub
	chatHub := wsHandler.NewChatHub(eventBus, presenceRepo, typingRepo, conversationRepo, chatSvc)
	go chatHub.Run(ctx)

	// 10. Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if redisDB.IsDegraded() {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  status,
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		// Key directory
		v1.POST("/keys", keysHdlr.PublishKey)
		v1.GET("/keys/:user_id", keysHdlr.GetPublicKey)
		v1.GET("/keys/:user_id/safety-number", keysHdlr.GetSafetyNumber)

		// Chats
		v1.POST("/chats", conversationHdlr.CreatePrivate)
		v1.POST("/chats/group", conversationHdlr.CreateGroup)
		v1.GET("/chats", conversationHdlr.ListChats)
		v1.GET("/chats/:chat_id", conversationHdlr.GetChat)
		v1.POST("/chats/:chat_id/participants", conversationHdlr.AddParticipant)
		v1.DELETE("/chats/:chat_id/participants/:user_id", conversationHdlr.RemoveParticipant)
		v1.DELETE("/chats/:chat_id/leave", conversationHdlr.Leave)
		v1.DELETE("/chats/:chat_id", conversationHdlr.DeleteChat)
		v1.POST("/chats/:chat_id/calls", chatHdlr.RecordCall)

		// Messages
		v1.POST("/messages", chatHdlr.SendMessage)
		v1.GET("/messages/:chat_id", chatHdlr.GetMessages)
		v1.POST("/messages/seen", chatHdlr.MarkSeen)
		v1.POST("/messages/:message_id/delivered", chatHdlr.MarkDelivered)
		v1.POST("/messages/:message_id/forward", chatHdlr.ForwardMessage)
		v1.DELETE("/messages/:message_id", chatHdlr.DeleteMessage)

		// WebSocket relay
		v1.GET("/ws", chatHub.ServeWS)
	}

	// 11. Start server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Chat service starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 12. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
