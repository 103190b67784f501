package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/cache"
	"github.com/henry-banana/tkob-qrorder/config"
	"github.com/henry-banana/tkob-qrorder/currency"
	"github.com/henry-banana/tkob-qrorder/database"
	"github.com/henry-banana/tkob-qrorder/handlers"
	"github.com/henry-banana/tkob-qrorder/kafka"
	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
	"github.com/henry-banana/tkob-qrorder/sepay"
	"github.com/henry-banana/tkob-qrorder/services"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	// Initialize database
	db, err := database.InitDB(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	redisClient, err := cache.InitRedis(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()
	store := cache.NewStore(redisClient)

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize Kafka consumer
	consumer, err := kafka.InitConsumer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start Kafka consumer in background
	go func() {
		if err := kafka.StartConsumer(ctx, consumer, cfg.KafkaTopic, db, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// Currency converter, warmed at startup
	converter := currency.NewConverter(store, cfg.ExchangeBaseURL, cfg.ExchangeAPIKey,
		cfg.FallbackUSDVND, cfg.RateCacheTTL, logger)
	go converter.Prefetch(ctx)

	gateway := sepay.NewHTTPClient(cfg.SePayBaseURL, cfg.SePayAPIKey, cfg.SePayAccountNumber, logger)

	orderSvc := services.NewOrderService(db, producer, cfg.KafkaTopic, logger)
	paymentSvc := services.NewPaymentService(db, converter, gateway, producer, cfg.KafkaTopic,
		cfg.TransferPrefix, cfg.PaymentExpiry, logger)

	// Sweep expired payment intents in the background
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := paymentSvc.ExpireStale(ctx); err != nil {
					logger.Error("Failed to expire stale payments", zap.Error(err))
				}
			}
		}
	}()

	jwtSecret := []byte(cfg.JWTSecret)
	authHandler := handlers.NewAuthHandler(db, jwtSecret, cfg.StaffTTL, logger)
	sessionHandler := handlers.NewSessionHandler(db, jwtSecret, cfg.SessionTTL, logger)
	tenantsHandler := handlers.NewTenantsHandler(db, logger)
	menuHandler := handlers.NewMenuHandler(db, store, cfg.UploadDir, logger)
	tablesHandler := handlers.NewTablesHandler(db, logger)
	staffHandler := handlers.NewStaffHandler(db, logger)
	ordersHandler := handlers.NewOrdersHandler(orderSvc, logger)
	paymentsHandler := handlers.NewPaymentsHandler(paymentSvc, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())
	router.Static("/uploads", cfg.UploadDir)

	limit := middleware.RateLimit(store, cfg.RateLimitPoints, cfg.RateLimitWindow, logger)
	api := router.Group("/api/v1")

	// Public endpoints
	api.POST("/tenants", limit, tenantsHandler.CreateTenant)
	api.POST("/auth/register", limit, authHandler.Register)
	api.POST("/auth/login", limit, authHandler.Login)
	api.POST("/session", limit, sessionHandler.CreateSession)

	// Customer endpoints, scoped by a table session token. The limiter runs
	// after auth so its key includes the session identity.
	session := api.Group("")
	session.Use(middleware.SessionAuth(jwtSecret, logger), limit)
	session.GET("/menu", menuHandler.GetMenu)
	session.POST("/orders/checkout", ordersHandler.Checkout)
	session.GET("/orders/mergeable", ordersHandler.Mergeable)
	session.GET("/orders/:id", ordersHandler.GetOrder)
	session.POST("/orders/:id/items", ordersHandler.AppendItems)
	session.POST("/orders/:id/payment-intent", paymentsHandler.CreateIntent)
	session.GET("/payments/:id", paymentsHandler.CheckPayment)
	session.POST("/payments/:id/check", paymentsHandler.CheckPayment)

	// Management endpoints, scoped by a staff token
	admin := api.Group("/admin")
	admin.Use(middleware.StaffAuth(jwtSecret, logger), limit)
	admin.GET("/orders", ordersHandler.ListOrders)
	admin.PATCH("/orders/:id/status", ordersHandler.UpdateStatus)
	admin.GET("/menu", menuHandler.ListMenuItems)
	admin.GET("/tables", tablesHandler.ListTables)
	admin.GET("/staff", staffHandler.ListStaff)

	manage := admin.Group("")
	manage.Use(middleware.RequireRole(models.RoleAdmin, models.RoleManager))
	manage.POST("/menu", menuHandler.CreateMenuItem)
	manage.PATCH("/menu/:id", menuHandler.UpdateMenuItem)
	manage.DELETE("/menu/:id", menuHandler.DeleteMenuItem)
	manage.POST("/menu/:id/photo", menuHandler.UploadPhoto)
	manage.POST("/tables", tablesHandler.CreateTable)
	manage.PATCH("/tables/:id", tablesHandler.UpdateTable)
	manage.DELETE("/tables/:id", tablesHandler.DeleteTable)
	manage.DELETE("/staff/:id", staffHandler.DeleteStaff)
	manage.GET("/settings", tenantsHandler.GetSettings)
	manage.PATCH("/settings", tenantsHandler.UpdateSettings)
	manage.POST("/payments/poll", paymentsHandler.Poll)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()
	logger.Info("QR order backend started", zap.String("addr", cfg.HTTPAddr))

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}
