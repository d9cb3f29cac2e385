package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emRival/PMJ-Secure/internal/config"
	"github.com/emRival/PMJ-Secure/internal/database"
	"github.com/emRival/PMJ-Secure/internal/handlers"
	"github.com/emRival/PMJ-Secure/internal/middleware"
	"github.com/emRival/PMJ-Secure/internal/services"
	"github.com/emRival/PMJ-Secure/pkg/logger"
	"github.com/emRival/PMJ-Secure/pkg/utils"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureEncryption(cfg.Security.Secret)
	utils.ConfigureResetTokens(cfg.Security.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPID:          cfg.WebAuthn.RPID,
		RPOrigins:     []string{cfg.WebAuthn.RPOrigin},
	})
	if err != nil {
		log.Fatalf("webauthn initialization failed: %v", err)
	}

	authService := services.NewAuthService(db)
	challengeStore := services.NewChallengeStore(db)
	totpService := services.NewTOTPService(db, cfg.WebAuthn.RPDisplayName)
	webauthnService := services.NewWebAuthnService(db, wa, authService, challengeStore)
	auditService := services.NewAuditService(db)
	limiter := services.NewRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxAttempts)

	authHandler := handlers.NewAuthHandler(authService, totpService, auditService)
	totpHandler := handlers.NewTOTPHandler(totpService, auditService)
	webauthnHandler := handlers.NewWebAuthnHandler(webauthnService, authService, auditService)

	authMiddleware := middleware.NewAuthMiddleware(authService)

	// Periodic sweeps; expiry is also enforced at read time, so a late
	// tick can never resurrect a stale challenge or session.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			services.CleanupExpiredChallenges(db)
			services.CleanupExpiredSessions(db)
			utils.CleanupExpiredJTIs()
			limiter.Sweep()
		}
	}()

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", middleware.RateLimit(limiter, services.LimitClassRegister), authHandler.Register)
	authRoutes.Post("/login", middleware.RateLimit(limiter, services.LimitClassLogin), authHandler.Login)
	authRoutes.Post("/logout", authMiddleware.OptionalAuth, authHandler.Logout)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)
	authRoutes.Post("/verify-password", authMiddleware.RequireAuth, authHandler.VerifyPassword)
	authRoutes.Post("/reset-password/request", middleware.RateLimit(limiter, services.LimitClassLogin), authHandler.ResetPasswordRequest)
	authRoutes.Post("/reset-password", middleware.RateLimit(limiter, services.LimitClassLogin), authHandler.ResetPassword)

	totpRoutes := api.Group("/auth/totp", authMiddleware.RequireAuth)
	totpRoutes.Get("/status", totpHandler.Status)
	totpRoutes.Post("/setup", totpHandler.Setup)
	totpRoutes.Post("/verify-setup", totpHandler.VerifySetup)
	totpRoutes.Post("/disable", totpHandler.Disable)

	passkeyRoutes := api.Group("/auth/webauthn")
	passkeyRoutes.Post("/register/begin", authMiddleware.RequireAuth, webauthnHandler.RegisterBegin)
	passkeyRoutes.Post("/register/finish", authMiddleware.RequireAuth, webauthnHandler.RegisterFinish)
	passkeyRoutes.Post("/login/begin", middleware.RateLimit(limiter, services.LimitClassPasskeyAuth), webauthnHandler.LoginBegin)
	passkeyRoutes.Post("/login/finish", middleware.RateLimit(limiter, services.LimitClassPasskeyAuth), webauthnHandler.LoginFinish)
	passkeyRoutes.Get("/credentials", authMiddleware.RequireAuth, webauthnHandler.List)
	passkeyRoutes.Delete("/credentials/:id", authMiddleware.RequireAuth, webauthnHandler.Delete)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
		"rp_id":   cfg.WebAuthn.RPID,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
