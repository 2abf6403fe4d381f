package main

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"mosaic-api/cms"
	"mosaic-api/content"
	"mosaic-api/handlers"
	"mosaic-api/initializers"
	"mosaic-api/llm"
	"mosaic-api/middleware"
	"mosaic-api/pkg/notify"
	"mosaic-api/ratelimit"
	"mosaic-api/repository"
	"mosaic-api/websocket"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be set and at least 32 characters")
	}

	var db *sql.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		log.Printf("DB connection failed: %v, retrying in 2s...", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatal("Could not connect to database:", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("Migration driver error:", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		log.Fatal("Migration init error:", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatal("Migration failed:", err)
	}

	if err := initializers.InitDefaults(db); err != nil {
		log.Fatal("Failed to initialize default content:", err)
	}

	storage, err := initializers.InitStorage()
	if err != nil {
		log.Fatal("Failed to initialize object storage:", err)
	}

	usersRepo := repository.NewUsersRepository(db)
	contentRepo := repository.NewContentRepository(db)
	notificationsRepo := repository.NewNotificationsRepository(db)

	// The chat quota store is in-process by default; REDIS_URL switches
	// to the shared store so replicas see one budget per client.
	var chatLimiter ratelimit.Store
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		chatLimiter = ratelimit.NewRedisStore(redis.NewClient(opts), ratelimit.DefaultConfig())
	} else {
		chatLimiter = ratelimit.NewMemoryStore(ratelimit.DefaultConfig())
	}

	llmClient := llm.NewClient(
		os.Getenv("LLM_API_KEY"),
		envOr("LLM_API_URL", "https://api.openai.com/v1"),
		os.Getenv("LLM_MODEL"),
	)
	cmsClient := cms.NewClient(os.Getenv("CMS_API_URL"), os.Getenv("CMS_API_KEY"))
	contentCache := content.NewCache(contentRepo)

	r := gin.New()
	// Structured request ID and JSON access logs
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())
	// Panic recovery
	r.Use(gin.Recovery())

	// Configure trusted proxies for correct client IP handling in production
	trustedProxies := os.Getenv("TRUSTED_PROXIES")
	if trustedProxies != "" {
		parts := strings.Split(trustedProxies, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if err := r.SetTrustedProxies(parts); err != nil {
			log.Fatalf("Invalid TRUSTED_PROXIES: %v", err)
		}
	} else {
		// Default to loopback only; override via TRUSTED_PROXIES in production
		_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	}

	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.RateLimitMiddleware())

	// Initialize WebSocket hub and notifier
	hub := websocket.NewHub()
	notifier := &notify.WSNotifier{Hub: hub}

	// Handlers
	authHandler := handlers.NewAuthHandler(usersRepo, jwtSecret)
	chatHandler := handlers.NewChatHandler(llmClient, chatLimiter)
	webhookHandler := handlers.NewWebhookHandler(os.Getenv("CMS_WEBHOOK_SECRET"), contentCache, contentRepo).
		WithDeployHook(os.Getenv("DEPLOY_HOOK_URL")).
		WithChatNotification(os.Getenv("NOTIFY_WEBHOOK_URL")).
		WithNotifier(notifier, notificationsRepo, usersRepo)
	avatarsHandler := handlers.NewAvatarsHandler(usersRepo, storage)
	contentHandler := handlers.NewContentHandler(contentCache, contentRepo, cmsClient)
	notificationsHandler := handlers.NewNotificationsHandler(notificationsRepo)

	// Set Gin to release mode in production
	if os.Getenv("GIN_MODE") == "release" || strings.ToLower(os.Getenv("APP_ENV")) == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Public endpoints
	r.GET("/health", handlers.HealthCheck)
	r.POST("/chat", chatHandler.Chat)
	r.OPTIONS("/chat", chatHandler.Options)
	r.POST("/webhook", webhookHandler.Handle)
	r.GET("/content", contentHandler.List)
	r.GET("/content/:slug", contentHandler.Get)

	// Public endpoints with stricter auth rate limit
	authPublic := r.Group("/", middleware.RateLimitAuthMiddleware())
	authPublic.POST("/register", authHandler.Register)
	authPublic.POST("/login", authHandler.Login)

	auth := r.Group("/", handlers.AuthMiddleware(jwtSecret))
	{
		auth.GET("/ws", websocket.ServeWS(hub))
		auth.GET("/me", authHandler.Me)

		auth.POST("/avatars", avatarsHandler.Upload)
		auth.GET("/avatars/me", avatarsHandler.GetMine)

		auth.POST("/content/sync", contentHandler.Sync)

		auth.GET("/notifications/unread", notificationsHandler.ListUnread)
		auth.POST("/notifications/mark-read", notificationsHandler.MarkRead)
	}

	r.Run(":8080")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
