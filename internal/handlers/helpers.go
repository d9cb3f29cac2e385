package handlers

import (
	"strings"
	"time"

	"github.com/emRival/PMJ-Secure/internal/middleware"
	"github.com/emRival/PMJ-Secure/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	return middleware.GetRequestID(c)
}

// requestIsSecure reports whether the client reached us over TLS,
// directly or via a terminating proxy.
func requestIsSecure(c *fiber.Ctx) bool {
	return c.Protocol() == "https" || c.Get("X-Forwarded-Proto") == "https"
}

// setSessionCookie applies the one cookie policy used everywhere:
// HTTP-only, SameSite=Lax (top-level redirect flows still carry the
// cookie), Secure tied to the transport, 7-day max age.
func setSessionCookie(c *fiber.Ctx, sessionID string) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   requestIsSecure(c),
		Expires:  time.Now().Add(services.SessionTTL),
	})
}

func clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   requestIsSecure(c),
		Expires:  time.Now().Add(-time.Hour),
	})
}
