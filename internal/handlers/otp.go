package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/ctrlhome/internal/services"
)

// OTPHandler exposes the email verification flow.
type OTPHandler struct {
	otp *services.OTPService
}

// NewOTPHandler constructs an OTPHandler.
func NewOTPHandler(otp *services.OTPService) *OTPHandler {
	return &OTPHandler{otp: otp}
}

type otpRequest struct {
	Resend bool `json:"resend"`
}

// RequestOTP issues or re-sends a verification code. The body is optional.
func (h *OTPHandler) RequestOTP(c *fiber.Ctx) error {
	var req otpRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	res, err := h.otp.RequestOTP(c.UserContext(), c.Params("externalId"), req.Resend)
	if err != nil {
		return err
	}
	return c.Status(reasonStatus(res.Reason)).JSON(res)
}

type verifyRequest struct {
	Code string `json:"code"`
}

// VerifyOTP checks a submitted code.
func (h *OTPHandler) VerifyOTP(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Code) == "" {
		return &services.ValidationError{Fields: map[string]string{"code": "is required"}}
	}

	res, err := h.otp.VerifyOTP(c.UserContext(), c.Params("externalId"), req.Code)
	if err != nil {
		return err
	}
	return c.Status(reasonStatus(res.Reason)).JSON(res)
}
