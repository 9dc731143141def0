package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/ctrlhome/internal/database"
	"github.com/example/ctrlhome/internal/handlers"
	"github.com/example/ctrlhome/internal/middleware"
	"github.com/example/ctrlhome/internal/services"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Store     database.Store
	Users     *services.UserService
	Profiles  *services.ProfileService
	OTP       *services.OTPService
	JWTSecret string
	Logger    *zap.Logger
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, deps Deps) {
	userHandler := handlers.NewUserHandler(deps.Users)
	profileHandler := handlers.NewProfileHandler(deps.Profiles)
	otpHandler := handlers.NewOTPHandler(deps.OTP)
	webhookHandler := handlers.NewWebhookHandler(deps.Users, deps.Logger)

	app.Get("/health", handlers.Health(deps.Store))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/login", userHandler.Login)

	// Identity provider events
	api.Post("/webhooks/identity", webhookHandler.Identity)

	users := api.Group("/users")
	users.Post("/", userHandler.Provision)
	users.Get("/:externalId", userHandler.GetUser)
	users.Post("/:externalId/push-token", userHandler.SavePushToken)
	users.Post("/:externalId/otp", otpHandler.RequestOTP)
	users.Post("/:externalId/otp/verify", otpHandler.VerifyOTP)

	api.Put("/profile/by-email", profileHandler.UpdateProfileByEmail)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(deps.JWTSecret))
	protected.Put("/profile", profileHandler.UpdateProfile)
}
