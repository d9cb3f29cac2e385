package middleware

import (
	"strconv"

	"github.com/emRival/PMJ-Secure/internal/services"
	"github.com/emRival/PMJ-Secure/pkg/logger"
	"github.com/emRival/PMJ-Secure/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// RateLimit guards a sensitive endpoint class with the shared sliding
// window limiter. Denials answer 429 with a Retry-After hint; the
// message never depends on whether the target account exists.
func RateLimit(limiter *services.RateLimiter, class string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, retryAfter := limiter.Check(class, c.IP())
		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Set("Retry-After", strconv.Itoa(seconds))

			logger.Warn("rate_limit_exceeded", map[string]interface{}{
				"ip":    c.IP(),
				"class": class,
				"path":  c.Path(),
			})
			return utils.Error(c, fiber.StatusTooManyRequests, "too many attempts, please try again later")
		}
		return c.Next()
	}
}
