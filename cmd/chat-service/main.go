package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaychat-backend/internal/config"
	"relaychat-backend/internal/database"
	chatHandler "relaychat-backend/internal/handler/http/chat"
	conversationHandler "relaychat-backend/internal/handler/http/conversation"
	wsHandler "relaychat-backend/internal/handler/ws"
	"relaychat-backend/internal/identity"
	"relaychat-backend/internal/middleware"
	"relaychat-backend/internal/repository/cassandra"
	"relaychat-backend/internal/repository/cockroach"
	redisRepo "relaychat-backend/internal/repository/redis"
	accessService "relaychat-backend/internal/service/access"
	conversationService "relaychat-backend/internal/service/conversation"
	messageService "relaychat-backend/internal/service/message"
	receiptService "relaychat-backend/internal/service/receipt"
	"relaychat-backend/pkg/jwt"
	"relaychat-backend/pkg/logger"
	"relaychat-backend/pkg/metrics"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(cfg.JWTSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewManager(cfg.JWTSecret, 15*time.Minute)

	// Databases
	cockroachDB, err := database.NewCockroachDB(context.Background(), cfg.Cockroach)
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("connected to CockroachDB")

	cassandraDB, err := database.NewCassandraDB(cfg.Cassandra)
	if err != nil {
		logger.Fatal("failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("connected to Cassandra")

	redisDB, err := database.NewRedisDB(cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("connected to Redis")

	// Repositories
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	receiptRepo := cockroach.NewReceiptRepository(cockroachDB.Pool)
	userRepo := cockroach.NewUserRepository(cockroachDB.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	publisher := redisRepo.NewPublisher(redisDB.Client)
	subscriber := redisRepo.NewSubscriber(redisDB.Client)

	// Identity provider boundary: this service validates platform
	// credentials and reads the user directory, nothing more
	identityProvider := identity.NewJWTProvider(jwtManager, userRepo)

	// Metrics
	appMetrics := metrics.NewMetrics("chat-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// Services
	accessSvc := accessService.NewService(conversationRepo, userRepo)
	receiptSvc := receiptService.NewService(receiptRepo, messageRepo, publisher, accessSvc)
	messageSvc := messageService.NewService(messageRepo, conversationRepo, receiptSvc, publisher, accessSvc, appMetrics)
	conversationSvc := conversationService.NewService(conversationRepo, receiptRepo, identityProvider, publisher, accessSvc)

	// WebSocket hub
	hub := wsHandler.NewHub(subscriber, messageSvc, receiptSvc, accessSvc, appMetrics)
	wsHdlr := wsHandler.NewHandler(hub)

	// HTTP handlers
	conversationHdlr := conversationHandler.NewHandler(conversationSvc)
	chatHdlr := chatHandler.NewHandler(messageSvc, receiptSvc)

	// Router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "chat-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	rateLimiter := middleware.NewRateLimiter(redisDB.Client, 300, time.Minute)

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(identityProvider))
	v1.Use(rateLimiter.Middleware())
	{
		v1.POST("/conversations/direct", conversationHdlr.CreateDirect)
		v1.POST("/conversations/group", conversationHdlr.CreateGroup)
		v1.GET("/conversations", conversationHdlr.ListConversations)
		v1.GET("/conversations/:id", conversationHdlr.GetConversation)
		v1.PATCH("/conversations/:id/name", conversationHdlr.RenameConversation)
		v1.DELETE("/conversations/:id", conversationHdlr.DeleteConversation)
		v1.POST("/conversations/:id/members", conversationHdlr.AddMember)
		v1.DELETE("/conversations/:id/members/:userId", conversationHdlr.RemoveMember)

		v1.POST("/conversations/:id/messages", chatHdlr.SendMessage)
		v1.GET("/conversations/:id/messages", chatHdlr.ListMessages)
		v1.GET("/conversations/:id/messages/:messageId", chatHdlr.GetMessage)
		v1.PATCH("/conversations/:id/messages/:messageId", chatHdlr.EditMessage)
		v1.DELETE("/conversations/:id/messages/:messageId", chatHdlr.DeleteMessage)

		v1.POST("/conversations/:id/messages/read", chatHdlr.MarkAsRead)
		v1.GET("/conversations/:id/messages/unread-count", chatHdlr.GetUnreadCount)
		v1.GET("/conversations/:id/receipts", chatHdlr.ListReceipts)

		v1.GET("/ws", wsHdlr.ServeWS)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		logger.Info("chat service starting",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
