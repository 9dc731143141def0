package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/ctrlhome/internal/utils"
)

const externalIDKey = "externalID"

// AuthMiddleware validates the bearer token and stores the caller's external
// identity id in the request context.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		externalID, err := utils.ParseToken(secret, strings.TrimSpace(parts[1]))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(externalIDKey, externalID)
		return c.Next()
	}
}

// GetExternalID extracts the authenticated external identity id from context.
func GetExternalID(c *fiber.Ctx) (string, bool) {
	id, ok := c.Locals(externalIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
