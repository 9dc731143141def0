package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/ctrlhome/internal/middleware"
	"github.com/example/ctrlhome/internal/services"
)

// ProfileHandler manages user profile endpoints.
type ProfileHandler struct {
	profiles *services.ProfileService
}

// NewProfileHandler constructs ProfileHandler.
func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// UpdateProfile updates the authenticated caller's user and profile.
func (h *ProfileHandler) UpdateProfile(c *fiber.Ctx) error {
	externalID, ok := middleware.GetExternalID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, services.ErrNotAuthenticated.Error())
	}

	var req services.ProfileFields
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	profile, err := h.profiles.UpdateProfile(c.UserContext(), externalID, req)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"success": true, "data": profile})
}

// UpdateProfileByEmail is the unauthenticated variant addressed by email.
func (h *ProfileHandler) UpdateProfileByEmail(c *fiber.Ctx) error {
	var req services.ProfileByEmailInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	res, err := h.profiles.UpdateProfileByEmail(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(reasonStatus(res.Reason)).JSON(res)
}
