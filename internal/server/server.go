// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"

	"sologram/internal/auth"
	"sologram/internal/cache"
	"sologram/internal/config"
	"sologram/internal/media"
	"sologram/internal/middleware"
	"sologram/internal/models"
	"sologram/internal/notifications"
	"sologram/internal/repository"
	"sologram/internal/service"
	"sologram/internal/store"
	"sologram/internal/store/firestore"
	"sologram/internal/store/memory"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	store          store.Store
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	verifier       auth.Verifier
	uploader       media.Uploader
	userRepo       repository.UserRepository
	postRepo       repository.PostRepository
	chatRepo       repository.ChatRepository
	notifier       *notifications.Notifier
	hub            *notifications.Hub
	postService    *service.PostService
	chatService    *service.ChatService
	userService    *service.UserService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("store initialization failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	var verifier auth.Verifier
	if cfg.GoogleProjectID != "" {
		fv, err := auth.NewFirebaseVerifier(context.Background(), cfg.GoogleProjectID, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("identity verifier initialization failed: %w", err)
		}
		verifier = fv
	} else {
		log.Println("No identity project configured, using development token verifier")
		verifier = auth.NewDevVerifier(cfg.JWTSecret)
	}

	var uploader media.Uploader
	if cfg.CloudinaryURL != "" {
		cu, err := media.NewCloudinary(cfg.CloudinaryURL, cfg.CloudinaryUploadPreset)
		if err != nil {
			return nil, fmt.Errorf("media uploader initialization failed: %w", err)
		}
		uploader = cu
	} else {
		log.Println("No media service configured, using fake uploader")
		uploader = media.NewFake()
	}

	return NewServerWithDeps(cfg, st, redisClient, verifier, uploader), nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes the store, Redis
// and identity verification.
func NewServerWithDeps(cfg *config.Config, st store.Store, redisClient *redis.Client, verifier auth.Verifier, uploader media.Uploader) *Server {
	userRepo := repository.NewUserRepository(st)
	postRepo := repository.NewPostRepository(st)
	chatRepo := repository.NewChatRepository(st)

	prom := fiberprometheus.New("sologram-api")

	server := &Server{
		config:         cfg,
		store:          st,
		redis:          redisClient,
		promMiddleware: prom,
		verifier:       verifier,
		uploader:       uploader,
		userRepo:       userRepo,
		postRepo:       postRepo,
		chatRepo:       chatRepo,
	}

	// The hub also tracks presence for the user directory, so it exists even
	// without Redis; only event delivery needs the notifier, and the services
	// treat a nil notifier as disabled.
	server.hub = notifications.NewHub()
	var notifier service.Notifier
	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
		notifier = server.notifier
	}

	server.postService = service.NewPostService(postRepo, userRepo, uploader, notifier)
	server.chatService = service.NewChatService(chatRepo, userRepo, notifier)
	server.userService = service.NewUserService(userRepo)

	return server
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "firestore":
		if cfg.GoogleProjectID == "" {
			return nil, fmt.Errorf("firestore backend requires GOOGLE_PROJECT_ID")
		}
		return firestore.Open(context.Background(), cfg.GoogleProjectID, cfg.GoogleCredentialsFile)
	case "", "memory":
		log.Println("Using in-memory document store (data is not persisted)")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and user uid
	app.Use(middleware.ContextMiddleware())

	// OpenTelemetry server spans (after requestid so the span carries it)
	app.Use(middleware.Tracing())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit
	// (e.g. limiter) so browser clients still receive CORS headers on error
	// responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Sologram Backend Metrics Dashboard",
	}))

	// Public feed routes
	publicPosts := api.Group("/posts")
	publicPosts.Get("/", s.GetPosts)
	publicPosts.Get("/:id/comments", s.GetComments)
	publicPosts.Get("/:id", s.GetPost)

	// Protected routes
	protected := api.Group("", middleware.RequireAuth(s.verifier))

	// User routes
	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Put("/me", s.UpdateMyProfile)
	users.Get("/", s.GetUsers)
	// Specific /:uid/:resource routes before the generic /:uid route
	users.Get("/:uid/posts", s.GetUserPosts)
	users.Get("/:uid", s.GetUserProfile)

	// Protected post routes
	posts := protected.Group("/posts")
	posts.Post("/", middleware.RateLimit(
		s.redis, 5, 5*time.Minute, "create_post"), s.CreatePost)
	posts.Post("/:id/like", s.LikePost)
	posts.Post("/:id/comments", middleware.RateLimit(
		s.redis, 10, time.Minute, "create_comment"), s.CreateComment)
	posts.Delete("/:id", s.DeletePost)

	// Chat routes, addressed by the other participant's uid
	chats := protected.Group("/chats")
	chats.Get("/:uid/messages", s.GetMessages)
	chats.Post("/:uid/messages", middleware.RateLimit(
		s.redis, 15, time.Minute, "send_chat"), s.SendMessage)

	// Websocket endpoints
	ws := api.Group("/ws", middleware.RequireAuth(s.verifier))
	ws.Get("/feed", s.WebSocketFeedHandler())
	ws.Get("/users", s.WebSocketUsersHandler())
	ws.Get("/users/:uid/posts", s.WebSocketAuthorFeedHandler())
	ws.Get("/chats/:uid", s.WebSocketChatHandler())
	ws.Get("/notifications", s.WebSocketNotificationsHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if _, err := s.store.Query(ctx, "users", store.Query{Limit: 1}); err != nil {
		storeStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		// Redis is optional; notifications are simply disabled without it.
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if storeStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"store": storeStatus,
			"redis": redisStatus,
		},
		"time": time.Now(),
	})
}

// Start builds the Fiber app and begins serving
func (s *Server) Start() error {
	app := s.BuildApp()

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// BuildApp assembles the Fiber application with middleware and routes. Split
// from Start so tests can exercise the full stack without listening.
func (s *Server) BuildApp() *fiber.App {
	if s.shutdownCtx == nil {
		s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())
	}

	app := fiber.New(fiber.Config{
		AppName: "Sologram API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			status := models.StatusForError(err)
			if status == fiber.StatusInternalServerError {
				log.Printf("Error: %v", err)
				err = models.NewInternalError(err)
			}
			return models.RespondWithError(c, status, err)
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	// Wire the hub to the Redis subscriber if available
	if s.notifier != nil && s.hub != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				log.Printf("failed to start %s wiring: %v", s.hub.Name(), err)
			}
		}()
	}

	return app
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop all wiring goroutines
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	// Shutdown the HTTP/WS server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Close WebSocket connections gracefully
	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			log.Printf("error shutting down %s: %v", s.hub.Name(), err)
		}
	}

	// Close the document store
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("error closing store: %v", err)
		}
	}

	// Close Redis connection
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
