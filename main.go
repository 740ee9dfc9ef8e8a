package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"cowork-chat/internal/auth"
	"cowork-chat/internal/config"
	"cowork-chat/internal/db"
	"cowork-chat/internal/handlers"
	"cowork-chat/internal/logging"
	"cowork-chat/internal/middleware"
	"cowork-chat/internal/observability"
	"cowork-chat/internal/presence"
	"cowork-chat/internal/rabbitmq"
	"cowork-chat/internal/repositories"
	"cowork-chat/internal/services"
	"cowork-chat/internal/telemetry"
	"cowork-chat/internal/ws"
)

const serviceName = "cowork-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Env)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	database, err := db.Connect(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAlgorithm)
	if err != nil {
		logger.Fatal("failed to build token verifier", zap.Error(err))
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, serviceName, cfg.Env, logger)

	var (
		hub     *ws.Hub
		tracker presence.Tracker
	)
	switch cfg.PresenceBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to reach redis", zap.Error(err))
		}
		hub = ws.NewHub(ws.NewRedisRelay(rdb, "chat:relay", logger), logger)
		tracker = presence.NewRedisTracker(rdb, cfg.PresenceTTL, hub, logger)
	default:
		hub = ws.NewHub(nil, logger)
		tracker = presence.NewMemoryTracker(hub, logger)
	}
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("hub relay stopped", zap.Error(err))
		}
	}()

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	reactionRepo := repositories.NewReactionRepo(database)
	notificationRepo := repositories.NewNotificationRepo(database)
	userRepo := repositories.NewUserRepo(database)
	connectionRepo := repositories.NewConnectionRepo(database)

	permissions := services.NewPermissions(connectionRepo, conversationRepo, userRepo, cfg.PermissionCacheTTL, logger)
	conversationSvc := services.NewConversationService(conversationRepo, permissions, logger)
	fanout := services.NewFanout(notificationRepo, tracker, logger)
	messageSvc := services.NewMessageService(messageRepo, reactionRepo, conversationRepo, userRepo, conversationSvc, permissions, fanout, hub, cfg.MutationWindow, logger)
	reactionSvc := services.NewReactionService(reactionRepo, messageRepo, conversationRepo, hub, logger)
	receiptSvc := services.NewReceiptService(conversationRepo, notificationRepo, hub, logger)

	gateway := ws.NewGateway(hub, verifier, userRepo, tracker, ws.Domain{
		Messages:      messageSvc,
		Receipts:      receiptSvc,
		Conversations: conversationSvc,
		Permissions:   permissions,
	}, ws.GatewayConfig{
		EventsPerSecond: cfg.WSEventsPerSecond,
		EventBurst:      cfg.WSEventBurst,
	}, logger)

	conversationHandler := handlers.NewConversationHandler(conversationSvc, messageSvc, receiptSvc, logger)
	messageHandler := handlers.NewMessageHandler(messageSvc, reactionSvc, auditEmitter, logger)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", handlers.Health(database))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gateway.Handle)

	authed := router.Group("/", middleware.AuthMiddleware(verifier))
	handlers.RegisterChatRoutes(authed, conversationHandler, messageHandler)
	handlers.RegisterDebugRoutes(authed, auditEmitter, tracker, hub, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("chat service listening", zap.String("addr", srv.Addr), zap.String("presence", cfg.PresenceBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
