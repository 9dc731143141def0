package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/ctrlhome/internal/database"
)

// Health reports liveness and whether the store answers.
func Health(store database.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := store.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}
