package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/carelink/internal/auth"
	"github.com/BradenHooton/carelink/internal/background"
	"github.com/BradenHooton/carelink/internal/config"
	"github.com/BradenHooton/carelink/internal/database"
	"github.com/BradenHooton/carelink/internal/handlers"
	"github.com/BradenHooton/carelink/internal/metrics"
	middlewareCustom "github.com/BradenHooton/carelink/internal/middleware"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/internal/repositories"
	"github.com/BradenHooton/carelink/internal/routes"
	"github.com/BradenHooton/carelink/internal/services"
	"github.com/BradenHooton/carelink/migrations"
	pkgauth "github.com/BradenHooton/carelink/pkg/auth"
	pkghttp "github.com/BradenHooton/carelink/pkg/http"
	pkglogger "github.com/BradenHooton/carelink/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const serviceName = "carelink-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Server)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("email_provider", cfg.Email.Provider))

	if cfg.OTP.ExposeCodes {
		logger.Warn("one-time codes are returned in API responses; development only")
	}

	if err := pkgauth.SetBcryptCost(cfg.Auth.BcryptCost); err != nil {
		logger.Error("invalid bcrypt cost", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(migrateCtx, db.Pool, migrations.FS, logger)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	metrics.MustRegister(serviceName)

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	otpRepo := repositories.NewOTPRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)
	tokenManager.SetUserRepo(userRepo)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})
	auditLogger := pkglogger.NewAuditLogger(logger)

	mailerCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mailer, err := newMailer(mailerCtx, cfg.Email, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Services
	otpService := services.NewOTPService(otpRepo, mailer, logger, cfg.OTP, cfg.Email.AppName)
	otpService.SetFailureDelay(timingDelay)

	authService := services.NewAuthService(userRepo, revokeRepo, otpService, tokenManager, logger, auditLogger)
	authService.SetFailureDelay(timingDelay)

	userService := services.NewUserService(userRepo, logger)
	adminService := services.NewAdminService(userRepo, otpService, logger)

	bootstrapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, userService, cfg.Bootstrap, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Handlers
	session := handlers.SessionConfig{
		Cookies: auth.CookieConfig{
			Domain:   cfg.Auth.CookieDomain,
			Secure:   cfg.Auth.CookieSecure,
			SameSite: "lax",
		},
		AccessTTL:  cfg.Auth.AccessTokenExpiry,
		RefreshTTL: cfg.Auth.RefreshTokenExpiry,
	}
	h := routes.Handlers{
		OTP:   handlers.NewOTPHandler(otpService, logger),
		Auth:  handlers.NewAuthHandler(authService, session, logger),
		Users: handlers.NewUserHandler(userService, logger),
		Admin: handlers.NewAdminHandler(adminService, userService, logger),
	}

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.Metrics)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, h, routes.Deps{
		TokenManager: tokenManager,
		Revocations:  revokeRepo,
		Health:       db,
		IP:           ipConfig,
		SignInPath:   cfg.Auth.SignInPath,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	cleanupManager := background.NewCleanupManager(revokeRepo, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupManager.Stop()
	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func newLogger(cfg config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("env", cfg.Env),
	)
}

// newMailer selects the configured transport and wraps it in the send throttle.
func newMailer(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (services.EmailService, error) {
	var mailer services.EmailService

	switch cfg.Provider {
	case "ses":
		ses, err := services.NewSESEmailService(ctx, cfg.AWSRegion, cfg.FromAddress, logger)
		if err != nil {
			return nil, err
		}
		mailer = ses
	case "smtp":
		mailer = services.NewSMTPEmailService(services.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.FromAddress,
		}, logger)
	default:
		logger.Warn("no email provider configured; code requests will fail")
		return services.DisabledEmailService{}, nil
	}

	if !mailer.Configured() {
		logger.Warn("email provider is not fully configured", slog.String("provider", cfg.Provider))
	}
	return services.NewThrottledEmailService(mailer, cfg.SendRate, cfg.SendBurst), nil
}

// ensureAdminUser creates the first admin from ADMIN_EMAIL and ADMIN_PASSWORD
// when both are set and the account does not exist yet.
func ensureAdminUser(ctx context.Context, users *services.UserService, cfg config.BootstrapConfig, logger *slog.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	admin, err := users.CreateUser(ctx, cfg.AdminEmail, "Admin", cfg.AdminPassword, models.RoleAdmin)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			logger.Info("admin user already exists")
			return nil
		}
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created",
		slog.String("user_id", admin.ID),
		slog.String("email", pkglogger.SanitizedEmail(strings.ToLower(admin.Email))))
	return nil
}
