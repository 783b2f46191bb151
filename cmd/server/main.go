package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quocanhngo/botdesk/internal/config"
	"github.com/quocanhngo/botdesk/internal/handler"
	"github.com/quocanhngo/botdesk/internal/middleware"
	"github.com/quocanhngo/botdesk/internal/repository"
	"github.com/quocanhngo/botdesk/internal/service"
	"github.com/quocanhngo/botdesk/migrations"
	"github.com/quocanhngo/botdesk/pkg/auth"
	"github.com/quocanhngo/botdesk/pkg/identity"
	"github.com/quocanhngo/botdesk/pkg/mailer"
	"github.com/quocanhngo/botdesk/pkg/otpcode"
	"github.com/quocanhngo/botdesk/pkg/storage"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// @title           BotDesk Auth API
// @version         1.0
// @description     Passwordless sign-in and account API for the BotDesk chatbot widget dashboard.

// @contact.name   API Support
// @contact.email  support@botdesk.local

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      api.localhost
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings {
		logger.Warn("⚠️  config: " + w)
	}
	logger.Info("🚀 starting BotDesk API server", zap.String("env", cfg.App.Env))

	// ctx is cancelled on shutdown and stops every background loop
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ==================== Database (PostgreSQL) ====================
	gormLog := gormlogger.Default.LogMode(gormlogger.Info)
	if cfg.App.IsProduction() {
		gormLog = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{Logger: gormLog})
	if err != nil {
		logger.Fatal("❌ failed to connect to database", zap.Error(err))
	}
	logger.Info("✅ connected to PostgreSQL")

	if err := migrations.Apply(db, cfg.DB.URL(), logger); err != nil {
		logger.Fatal("❌ failed to migrate database", zap.Error(err))
	}
	logger.Info("✅ database migrated")

	// ==================== Redis ====================
	// Redis is optional: OTPs fall back to memory and revocations stay local while it is down
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.OTP.ProbeTimeout)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("⚠️  Redis not reachable at startup", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
	} else {
		logger.Info("✅ connected to Redis")
	}
	cancelPing()

	// ==================== OTP Stores ====================
	var durable repository.OTPStore
	switch cfg.OTP.Store {
	case "postgres":
		pgStore := repository.NewPostgresOTPStore(db)
		go pgStore.RunCleanup(ctx, cfg.OTP.CleanupInterval, logger)
		durable = pgStore
	default:
		durable = repository.NewRedisOTPStore(rdb)
	}

	memStore := repository.NewMemoryOTPStore(time.Now)
	go memStore.RunJanitor(ctx, cfg.OTP.SweepInterval, logger)

	selector := repository.NewOTPStoreSelector(durable, memStore, repository.SelectorOptions{
		ProbeInterval:     cfg.OTP.ProbeInterval,
		ProbeTimeout:      cfg.OTP.ProbeTimeout,
		FailoverThreshold: cfg.OTP.FailoverThreshold,
	}, logger)
	selector.Probe(ctx)
	go selector.Run(ctx)
	logger.Info("🔑 otp store ready",
		zap.String("durable", durable.Name()),
		zap.Bool("durable_available", selector.DurableAvailable()),
	)

	// ==================== Identity + Codes ====================
	rules, err := identity.ParseRules(cfg.Identity.AliasRules)
	if err != nil {
		logger.Fatal("❌ invalid IDENTITY_ALIAS_RULES", zap.Error(err))
	}
	normalizer := identity.NewNormalizer(rules)
	logger.Info("📮 identity alias rules", zap.String("rules", rules.String()))

	codes := otpcode.New(cfg.OTP.Digits)
	if err := codes.SelfCheck(); err != nil {
		logger.Fatal("❌ secure random source unavailable", zap.Error(err))
	}

	// ==================== Tokens ====================
	localBlacklist := auth.NewMemoryBlacklist(cfg.Blacklist.Capacity)
	var blacklist auth.Blacklist = localBlacklist
	if cfg.Blacklist.Shared {
		blacklist = auth.NewLayeredBlacklist(localBlacklist, auth.NewRedisBlacklist(rdb), logger)
	}
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer, blacklist)
	if cfg.App.IsProduction() && cfg.JWT.Secret == "default-secret" {
		logger.Fatal("❌ JWT_SECRET must be set in production")
	}

	// ==================== Email (SMTP / Mailpit) ====================
	mailClient := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	}, logger)
	logger.Info("📧 SMTP configured", zap.String("host", cfg.SMTP.Host), zap.String("port", cfg.SMTP.Port))

	// ==================== Optional Integrations ====================
	var avatars service.AvatarStore
	if cfg.MinIO.Enabled {
		minioStorage, err := storage.NewMinIO(ctx, storage.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			PublicURL: cfg.MinIO.PublicURL,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		}, logger)
		if err != nil {
			logger.Warn("⚠️  MinIO not available, avatar upload disabled", zap.Error(err))
		} else {
			avatars = minioStorage
			logger.Info("✅ connected to MinIO")
		}
	}

	var google service.GoogleVerifier
	if cfg.Google.ClientID != "" {
		google = service.NewIDTokenVerifier(cfg.Google.ClientID)
	} else {
		logger.Warn("⚠️  GOOGLE_CLIENT_ID not set, Google sign-in disabled")
	}

	// ==================== Initialize Layers ====================
	userRepo := repository.NewUserRepository(db)

	otpService := service.NewOTPService(selector, normalizer, codes, service.OTPPolicy{
		TTL:            cfg.OTP.TTL,
		MaxAttempts:    cfg.OTP.MaxAttempts,
		ResendCooldown: cfg.OTP.ResendCooldown,
	}, logger)

	authService := service.NewAuthService(service.AuthDeps{
		OTP:        otpService,
		Users:      userRepo,
		Sender:     mailClient,
		Tokens:     jwtManager,
		Google:     google,
		Avatars:    avatars,
		Normalizer: normalizer,
		Logger:     logger,
	})

	authHandler := handler.NewAuthHandler(authService, logger)
	if err := handler.RegisterValidators(codes.Digits()); err != nil {
		logger.Fatal("❌ failed to register validators", zap.Error(err))
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Run(ctx)

	// ==================== Gin Router ====================
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if !cfg.App.IsProduction() {
		router.Use(gin.Logger())
	}

	// Serve swagger.json at /docs/swagger.json to avoid conflict with /swagger/* wildcard
	router.StaticFile("/docs/swagger.json", "./docs/swagger.json")
	url := ginSwagger.URL("/docs/swagger.json")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, url))

	router.Use(middleware.CORSMiddleware(cfg.CORS.Origins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"service":   "botdesk-api",
			"otp_store": selector.Active().Name(),
			"time":      time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ==================== API Routes ====================
	api := router.Group("/api/v1")
	{
		authGroup := api.Group("/auth", limiter.Middleware())
		{
			authGroup.POST("/otp/request", authHandler.RequestOTP)
			authGroup.POST("/otp/verify", authHandler.VerifyOTP)
			authGroup.POST("/otp/resend", authHandler.ResendOTP)
			authGroup.GET("/otp/status", authHandler.OTPStatus)

			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/google", authHandler.GoogleLogin)
			authGroup.POST("/forgot-password", authHandler.ForgotPassword)
			authGroup.POST("/reset-password", authHandler.ResetPassword)
			authGroup.POST("/refresh", authHandler.Refresh)
		}

		// Protected routes
		protected := api.Group("/auth")
		protected.Use(middleware.AuthMiddleware(jwtManager))
		{
			protected.POST("/logout", authHandler.Logout)
			protected.GET("/profile", authHandler.GetProfile)
			protected.PUT("/profile", authHandler.UpdateProfile)
			protected.POST("/profile/avatar", authHandler.UploadAvatar)
		}
	}

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("❌ server failed", zap.Error(err))
		}
	}()

	logger.Info("🌐 BotDesk API running", zap.String("addr", "http://0.0.0.0:"+cfg.App.Port))
	logger.Info("📋 API docs", zap.String("url", "http://0.0.0.0:"+cfg.App.Port+"/swagger/index.html"))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 shutting down server...")

	// Give ongoing requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("❌ server forced to shutdown", zap.Error(err))
	}

	stop()
	logger.Info("✅ server exited gracefully")
}

// newLogger builds a production logger in production and a development one elsewhere;
// LOG_LEVEL overrides the level of either
func newLogger(cfg *config.Config) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	if cfg.App.IsProduction() {
		zc = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err == nil {
		zc.Level = level
	}

	logger, buildErr := zc.Build()
	if buildErr != nil {
		logger = zap.NewExample()
	}
	if err != nil {
		logger.Warn("⚠️  invalid LOG_LEVEL, using default", zap.String("level", cfg.Log.Level))
	}
	return logger
}
