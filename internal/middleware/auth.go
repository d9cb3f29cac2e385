package middleware

import (
	"github.com/emRival/PMJ-Secure/internal/models"
	"github.com/emRival/PMJ-Secure/internal/services"
	"github.com/emRival/PMJ-Secure/pkg/logger"
	"github.com/emRival/PMJ-Secure/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const currentUserKey = "currentUser"

// SessionCookie is the name of the opaque bearer cookie.
const SessionCookie = "session_id"

type AuthMiddleware struct {
	Auth *services.AuthService
}

func NewAuthMiddleware(auth *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{Auth: auth}
}

func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3001,http://127.0.0.1:3001",
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
	})
}

// RequireAuth resolves the session cookie to a user. An unknown or
// expired session is a plain 401; session absence is never an internal
// error.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	sessionID := c.Cookies(SessionCookie)
	if sessionID == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	user, err := a.Auth.GetSession(sessionID)
	if err != nil {
		logger.Error("session_lookup_failed", err, map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	c.Locals(currentUserKey, user)
	return c.Next()
}

func (a *AuthMiddleware) OptionalAuth(c *fiber.Ctx) error {
	sessionID := c.Cookies(SessionCookie)
	if sessionID == "" {
		return c.Next()
	}

	user, err := a.Auth.GetSession(sessionID)
	if err != nil || user == nil {
		return c.Next()
	}

	c.Locals(currentUserKey, user)
	return c.Next()
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
