package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/ctrlhome/internal/services"
)

// UserHandler serves provisioning and identity lookups.
type UserHandler struct {
	users *services.UserService
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// GetUser returns the user and its profile, or data:null when the identity
// has not been provisioned yet.
func (h *UserHandler) GetUser(c *fiber.Ctx) error {
	view, err := h.users.GetUserByExternalID(c.UserContext(), c.Params("externalId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": view})
}

// Provision creates the user on first sign-in and returns the existing one afterwards.
func (h *UserHandler) Provision(c *fiber.Ctx) error {
	var req services.ProvisionInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	user, created, err := h.users.Provision(c.UserContext(), req, services.SourceClient)
	if err != nil {
		return serviceError(err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"success": true, "created": created, "data": user})
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

func (h *UserHandler) SavePushToken(c *fiber.Ctx) error {
	var req pushTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.users.SavePushToken(c.UserContext(), c.Params("externalId"), req.Token); err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "push token saved"})
}

type emailLookupRequest struct {
	Email string `json:"email"`
}

// Login resolves an account by email. Credentials are checked by the
// identity provider, not here.
func (h *UserHandler) Login(c *fiber.Ctx) error {
	var req emailLookupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" {
		return &services.ValidationError{Fields: map[string]string{"email": "is required"}}
	}

	res, err := h.users.LookupByEmail(c.UserContext(), req.Email)
	if err != nil {
		return err
	}
	if !res.Success {
		return c.Status(fiber.StatusNotFound).JSON(res)
	}
	return c.JSON(res)
}
