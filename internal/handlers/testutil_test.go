package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/emRival/PMJ-Secure/internal/middleware"
	"github.com/emRival/PMJ-Secure/internal/models"
	"github.com/emRival/PMJ-Secure/internal/services"
	"github.com/emRival/PMJ-Secure/pkg/logger"
	"github.com/emRival/PMJ-Secure/pkg/utils"
	"github.com/glebarez/sqlite"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

type testEnv struct {
	app  *fiber.App
	db   *gorm.DB
	auth *services.AuthService
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureEncryption("test-secret")
		utils.ConfigureResetTokens("test-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.PasskeyCredential{},
		&models.WebAuthnChallenge{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "PMJ Secure Test",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:3001"},
	})
	if err != nil {
		t.Fatalf("failed building webauthn config: %v", err)
	}

	authService := services.NewAuthService(db)
	challengeStore := services.NewChallengeStore(db)
	totpService := services.NewTOTPService(db, "PMJ Secure Test")
	webauthnService := services.NewWebAuthnService(db, wa, authService, challengeStore)
	auditService := services.NewAuditService(db)
	limiter := services.NewRateLimiter(15*time.Minute, 5)

	authHandler := NewAuthHandler(authService, totpService, auditService)
	totpHandler := NewTOTPHandler(totpService, auditService)
	webauthnHandler := NewWebAuthnHandler(webauthnService, authService, auditService)
	authMiddleware := middleware.NewAuthMiddleware(authService)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

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

	return &testEnv{app: app, db: db, auth: authService}
}

func createTestUser(t *testing.T, env *testEnv, username, password string) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
	}
	if err := env.db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	sessionID, err := env.auth.CreateSession(user.ID)
	if err != nil {
		t.Fatalf("failed creating session: %v", err)
	}

	return user, sessionID
}

func sessionHeaders(sessionID string) map[string]string {
	return map[string]string{"Cookie": middleware.SessionCookie + "=" + sessionID}
}

func sessionCookieValue(t *testing.T, resp *http.Response) string {
	t.Helper()
	for _, cookie := range resp.Cookies() {
		if cookie.Name == middleware.SessionCookie {
			return cookie.Value
		}
	}
	t.Fatal("expected a session cookie in the response")
	return ""
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
