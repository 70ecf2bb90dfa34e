// Package main is the application entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aibot-go/internal/config"
	"aibot-go/internal/handler"
	"aibot-go/internal/middleware"
	"aibot-go/internal/model"
	"aibot-go/internal/repository"
	"aibot-go/internal/service"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/database"
	"aibot-go/pkg/embedding"
	"aibot-go/pkg/es"
	"aibot-go/pkg/llm"
	"aibot-go/pkg/log"
	"aibot-go/pkg/notify"
	"aibot-go/pkg/storage"
	"aibot-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Configuration
	config.Init("./configs/config.yaml")
	cfg := &config.Conf
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Logger
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("logger initialized")

	// 3. Tenants
	registry, err := tenant.NewRegistry(cfg.Tenancy.DefaultSchema, cfg.Tenancy.Schemas)
	if err != nil {
		log.Fatal("invalid tenancy configuration", err)
	}

	// 4. Databases and external services
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Fatal("failed to initialize elasticsearch", err)
	}

	if err := database.DB.AutoMigrate(&model.Member{}, &model.Escalation{}, &model.KnowledgeRecord{}); err != nil {
		log.Fatal("failed to migrate database schema", err)
	}
	for _, schema := range registry.All() {
		if err := es.EnsureKnowledgeIndex(cfg.Elasticsearch.IndexPrefix, schema, cfg.Embedding.Dimensions); err != nil {
			log.Fatalf("failed to ensure knowledge index for tenant %s: %v", schema, err)
		}
	}

	// 5. Repositories
	memberRepo := repository.NewMemberRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB, cfg.Conversation)
	knowledgeRepo := repository.NewKnowledgeRepository(database.DB, es.ESClient, cfg.Elasticsearch)
	escalationRepo := repository.NewEscalationRepository(database.DB)

	// 6. Services
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	notifyChannel := notify.NewKafkaChannel(cfg.Notify, database.RDB)

	memberService := service.NewMemberService(memberRepo, conversationRepo, jwtManager)
	answerService := service.NewAnswerService(llmClient, cfg.LLM, cfg.Conversation)
	escalationService := service.NewEscalationService(escalationRepo, conversationRepo, notifyChannel, cfg.Notify, cfg.Escalation)
	chatService := service.NewChatService(conversationRepo, memberRepo, knowledgeRepo, embeddingClient, answerService, escalationService, cfg.Retrieval, cfg.Conversation)
	resolutionService := service.NewResolutionService(escalationRepo, knowledgeRepo, conversationRepo, memberRepo, embeddingClient, notifyChannel, registry, cfg.MinIO)

	// 7. Background reviewer-reply consumer
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	go notify.StartReplyConsumer(consumerCtx, cfg.Notify, resolutionService)

	// 8. Router
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	memberHandler := handler.NewMemberHandler(memberService, registry)
	chatHandler := handler.NewChatHandler(chatService, memberService, jwtManager, registry)
	conversationHandler := handler.NewConversationHandler(chatService)
	resolutionHandler := handler.NewResolutionHandler(resolutionService)

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", memberHandler.RefreshToken)
		}

		members := apiV1.Group("/members")
		{
			members.POST("/register", memberHandler.Register)
			members.POST("/login", memberHandler.Login)

			authed := members.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, memberService))
			{
				authed.GET("/me", memberHandler.GetProfile)
				authed.POST("/logout", memberHandler.Logout)
			}
		}

		chat := apiV1.Group("/chat")
		chat.Use(middleware.AuthMiddleware(jwtManager, memberService))
		{
			chat.POST("/ask", chatHandler.Ask)
			chat.GET("/websocket-token", chatHandler.GetWebsocketStopToken)
		}

		conversations := apiV1.Group("/conversations")
		conversations.Use(middleware.AuthMiddleware(jwtManager, memberService))
		{
			conversations.GET("/history", conversationHandler.History)
		}

		// Reviewer platform callback; delivered on the internal network.
		resolutions := apiV1.Group("/resolutions")
		{
			resolutions.POST("/webhook", resolutionHandler.Webhook)
		}
	}
	r.GET("/chat/:token", chatHandler.Handle)

	// 9. HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received, stopping...")

	cancelConsumer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}
	log.Info("server stopped")
}
