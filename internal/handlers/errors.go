package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/ctrlhome/internal/services"
)

// ErrorHandler renders handler errors as {"success": false, "error": ...}.
// Validation errors carry the offending fields; unexpected errors are logged
// and hidden behind a generic 500.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "validation failed",
				"fields":  verr.Fields,
			})
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"success": false, "error": fe.Message})
		}

		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "internal server error",
		})
	}
}

// serviceError maps domain sentinels onto HTTP errors and passes the rest through.
func serviceError(err error) error {
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrUserNotRegistered), errors.Is(err, services.ErrUserNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return err
	}
}

// reasonStatus picks the HTTP status for a structured result. The body is
// the result itself either way.
func reasonStatus(reason error) int {
	var verr *services.ValidationError
	switch {
	case reason == nil:
		return fiber.StatusOK
	case errors.Is(reason, services.ErrUserNotFound):
		return fiber.StatusNotFound
	case errors.Is(reason, services.ErrDeliveryFailure):
		return fiber.StatusBadGateway
	case errors.Is(reason, services.ErrDeliveryInProgress):
		return fiber.StatusConflict
	case errors.Is(reason, services.ErrNoPendingCode),
		errors.Is(reason, services.ErrExpiredCode),
		errors.Is(reason, services.ErrInvalidCode),
		errors.As(reason, &verr):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
