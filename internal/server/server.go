// Package server contains the HTTP and WebSocket handlers of the chat API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "marketplace/docs" // swagger docs
	"marketplace/internal/bootstrap"
	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/events"
	"marketplace/internal/featureflags"
	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/notifications"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	verifier     *middleware.Verifier
	chatService  *service.ChatService
	chatHub      *notifications.ChatHub
	notifier     *notifications.Notifier
	publisher    events.Publisher
	featureFlags *featureflags.Manager
}

// NewServer connects to the database and Redis and builds a Server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, rdb, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, rdb)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil, in which case rooms fan out on this instance only
// and send rate limiting is off.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("server requires a config and a database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("marketplace-chat"),
		shutdownCtx:    ctx,
		shutdownFn:     cancel,
		verifier:       middleware.NewVerifier(cfg),
		chatHub:        notifications.NewChatHub(),
		notifier:       notifications.NewNotifier(redisClient),
		publisher:      events.NewPublisher(cfg.Brokers(), cfg.KafkaTopic),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	s.chatService = service.NewChatService(service.ChatServiceDeps{
		Chats:    repository.NewChatRepository(db),
		Messages: repository.NewMessageRepository(db),
		Users:    repository.NewUserRepository(db),
		Products: repository.NewProductRepository(db),
		Events:   s.publisher,
		Limiter:  middleware.NewSendLimiter(redisClient, cfg.ChatSendRateLimit),
		Flags:    s.featureFlags,
	})
	s.chatService.SetBroadcastHook(s.chatHub)

	return s, nil
}

// App builds the fiber application with middleware and routes. Start calls
// it; tests drive the result with app.Test.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:      "Marketplace Chat API",
		ErrorHandler: s.errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, models.NewInternalError(err), s.config.IsDevelopment())
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Auth-Token, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:     "GET,POST,PATCH,OPTIONS",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	// 100 requests per minute per IP; preflight requests are never limited.
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
				Code:  models.CodeRateLimited,
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	app.Get("/swagger/*", swagger.HandlerDefault)

	auth := middleware.AuthRequired(s.verifier)
	app.Get("/features", auth, s.GetFeatureFlags)

	chat := app.Group("/chat", auth)
	chat.Get("/check", s.CheckChat)
	chat.Post("/init", middleware.RateLimit(s.redis, 10, time.Minute, "chat-init"), s.InitChat)
	chat.Get("/", s.ListChats)
	chat.Get("/:chatId/messages", s.GetMessages)
	chat.Post("/:chatId/messages", s.SendMessage)
	chat.Patch("/:chatId/read", s.MarkChatRead)
	chat.Patch("/:chatId/archive", s.ArchiveChat)
	chat.Get("/:chatId", s.GetChatInfo)

	app.Get("/ws/chat", middleware.WebSocketAuthRequired(s.verifier), requireUpgrade, s.WebSocketChatHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports whether the database and, when configured, Redis
// answer a ping. Redis being absent is not a failure: rooms then fan out
// locally.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"sessions": s.chatHub.SessionCount(),
		"time":     time.Now(),
	})
}

// StartRealtime wires the chat hub to the Redis room channels.
func (s *Server) StartRealtime() error {
	if err := s.chatHub.Start(s.shutdownCtx, s.notifier); err != nil {
		return fmt.Errorf("start chat hub: %w", err)
	}
	return nil
}

// Start wires the realtime hub and serves HTTP until Shutdown.
func (s *Server) Start() error {
	app := s.App()

	if err := s.StartRealtime(); err != nil {
		// Without the subscriber other instances' messages are missed, but
		// local rooms still work.
		middleware.Logger.Error("chat hub wiring failed, delivering locally", slog.String("error", err.Error()))
	}

	middleware.Logger.Info("server starting", slog.String("port", s.config.Port), slog.String("env", s.config.Env))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.chatHub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down chat hub", slog.String("error", err.Error()))
	}

	if err := s.publisher.Close(); err != nil {
		middleware.Logger.Error("error closing event publisher", slog.String("error", err.Error()))
	}

	if s.db == database.DB {
		// Connected through bootstrap: release the replica pool as well.
		if err := database.Close(); err != nil {
			middleware.Logger.Error("error closing database", slog.String("error", err.Error()))
		}
	} else if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
