package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/ctrlhome/internal/services"
)

const eventUserCreated = "user.created"

// WebhookHandler receives identity provider events. Signatures are checked
// upstream; events reaching this handler are trusted.
type WebhookHandler struct {
	users  *services.UserService
	logger *zap.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(users *services.UserService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{users: users, logger: logger}
}

type identityEvent struct {
	Type       string `json:"type"`
	ExternalID string `json:"externalId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	ImageURL   string `json:"imageUrl"`
}

// Identity provisions on user.created and acknowledges every other type.
// Redelivered events resolve to the already provisioned user.
func (h *WebhookHandler) Identity(c *fiber.Ctx) error {
	var evt identityEvent
	if err := c.BodyParser(&evt); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if evt.Type != eventUserCreated {
		h.logger.Debug("ignoring identity event", zap.String("type", evt.Type))
		return c.JSON(fiber.Map{"success": true, "ignored": true})
	}

	user, created, err := h.users.Provision(c.UserContext(), services.ProvisionInput{
		ExternalID: evt.ExternalID,
		Email:      evt.Email,
		FullName:   strings.TrimSpace(evt.FirstName + " " + evt.LastName),
		Image:      evt.ImageURL,
	}, services.SourceWebhook)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"success": true, "created": created, "data": user})
}
