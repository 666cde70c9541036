package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"whatsapp-sync/internal/audit"
	"whatsapp-sync/internal/handler"
	"whatsapp-sync/internal/middleware"
	"whatsapp-sync/internal/repository"
	"whatsapp-sync/internal/service"
	"whatsapp-sync/internal/sync_engine"
	"whatsapp-sync/internal/webhook_processor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Dependencies are the components the HTTP API exposes.
type Dependencies struct {
	Store          *repository.Store
	Auth           service.AuthService
	Messaging      *service.MessagingService
	Configurations *service.ConfigurationService
	Audit          *audit.Service
	Engine         *sync_engine.Engine
	Processor      *webhook_processor.Processor
	Providers      []string
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
}

type Server struct {
	router *gin.Engine
	deps   Dependencies
	log    *logrus.Logger
}

func NewServer(deps Dependencies, log *logrus.Logger) *Server {
	router := gin.Default()

	s := &Server{
		router: router,
		deps:   deps,
		log:    log,
	}

	// Setup routes
	s.setupRoutes()

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	logger := s.deps.Logger
	authHandler := handler.NewAuthHandler(s.deps.Auth, s.log)
	webhookHandler := handler.NewWebhookHandler(s.deps.Processor, logger)
	syncHandler := handler.NewSyncHandler(s.deps.Engine, s.deps.Store.SyncRuns, logger)
	messagingHandler := handler.NewMessagingHandler(s.deps.Messaging, logger)
	listingHandler := handler.NewListingHandler(s.deps.Store, logger)
	configHandler := handler.NewConfigHandler(s.deps.Configurations, logger)
	analyticsHandler := handler.NewAnalyticsHandler(s.deps.Audit, s.deps.Providers, logger)

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Provider callbacks are authenticated by signature, not by JWT.
	webhooks := s.router.Group("/webhook")
	webhooks.POST("/whapi/messages", webhookHandler.Whapi)
	webhooks.POST("/whapi/statuses", webhookHandler.Whapi)
	webhooks.POST("", webhookHandler.Provider)
	webhooks.POST("/:provider", webhookHandler.Provider)

	// Authentication routes
	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	// Authenticated routes
	authRequired := s.router.Group("/api")
	authRequired.Use(middleware.AuthMiddleware(s.deps.Auth, logger))
	{
		authRequired.POST("/auth/logout", authHandler.Logout)
		authRequired.GET("/auth/me", authHandler.Me)

		syncGroup := authRequired.Group("/sync")
		syncGroup.POST("/contacts", syncHandler.SyncContacts)
		syncGroup.POST("/groups", syncHandler.SyncGroups)
		syncGroup.POST("/group-members", syncHandler.SyncGroupMembers)
		syncGroup.POST("/messages", syncHandler.SyncMessages)
		syncGroup.POST("/all", syncHandler.SyncAll)
		syncGroup.GET("/runs", syncHandler.ListRuns)

		authRequired.POST("/messages/text", messagingHandler.SendText)
		authRequired.POST("/messages/media", messagingHandler.SendMedia)
		authRequired.GET("/messages/:message_id/status", syncHandler.MessageStatus)
		authRequired.GET("/messages", listingHandler.ListMessages)

		authRequired.GET("/groups", listingHandler.ListGroups)
		authRequired.POST("/groups", messagingHandler.CreateGroup)
		authRequired.GET("/groups/:id", listingHandler.GetGroup)
		authRequired.GET("/groups/:id/invite", messagingHandler.GroupInviteLink)
		authRequired.POST("/groups/:id/refresh", syncHandler.RefreshGroup)
		authRequired.POST("/groups/:id/participants", messagingHandler.AddParticipants)
		authRequired.DELETE("/groups/:id/participants", messagingHandler.RemoveParticipants)

		authRequired.GET("/contacts", listingHandler.ListContacts)
		authRequired.POST("/contacts/check", messagingHandler.CheckContacts)

		auditGroup := authRequired.Group("/audit")
		auditGroup.GET("/metrics", analyticsHandler.GetPerformance)
		auditGroup.GET("/providers/health", analyticsHandler.GetProviderHealth)
		auditGroup.GET("/daily", analyticsHandler.GetDailyStats)
		auditGroup.GET("/recent", analyticsHandler.GetRecent)

		admin := authRequired.Group("/configurations")
		admin.Use(middleware.RequireAdmin())
		admin.GET("", configHandler.ListConfigurations)
		admin.POST("", configHandler.CreateConfiguration)
		admin.PUT("/:id", configHandler.UpdateConfiguration)
		admin.PUT("/:id/active", configHandler.SetConfigurationActive)
		admin.POST("/:id/validate", configHandler.ValidateConfiguration)
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Server starting on %s...", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("Server shutdown failed: %v", err)
		return err
	}
	return nil
}
