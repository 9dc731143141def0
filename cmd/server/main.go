package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/example/ctrlhome/internal/config"
	"github.com/example/ctrlhome/internal/database"
	"github.com/example/ctrlhome/internal/handlers"
	"github.com/example/ctrlhome/internal/routes"
	"github.com/example/ctrlhome/internal/services"
	"github.com/example/ctrlhome/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := utils.NewLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	store, err := openStore(cfg, zl)
	if err != nil {
		zl.Fatal("failed to open store", zap.Error(err))
	}

	var mailer services.Mailer
	switch cfg.MailDriver {
	case config.MailDriverLog:
		mailer = services.NewLogMailer(zl)
	default:
		mailer = services.NewBrevoMailer(services.BrevoConfig{
			APIURL:      cfg.BrevoAPIURL,
			APIKey:      cfg.BrevoAPIKey,
			FromAddress: cfg.MailFromAddress,
			FromName:    cfg.MailFromName,
			ReplyTo:     cfg.MailReplyTo,
			ReplyToName: cfg.MailReplyToName,
		}, zl)
	}

	var events services.EventPublisher = services.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := services.NewKafkaPublisher(cfg.KafkaBrokers, zl)
		defer func() {
			if err := kp.Close(); err != nil {
				zl.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		events = kp
	}

	app := fiber.New(fiber.Config{
		AppName:      "Ctrlhome Backend",
		ErrorHandler: handlers.ErrorHandler(zl),
	})

	app.Use(recover.New())
	app.Use(logger.New())

	routes.Register(app, routes.Deps{
		Store:     store,
		Users:     services.NewUserService(store, events, zl),
		Profiles:  services.NewProfileService(store, zl),
		OTP:       services.NewOTPService(store, mailer, events, zl, cfg.OTPTTL),
		JWTSecret: cfg.JWTSecret,
		Logger:    zl,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		zl.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zl.Error("shutdown failed", zap.Error(err))
		}
	}()

	zl.Info("starting server",
		zap.String("port", cfg.AppPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("mail", cfg.MailDriver),
		zap.Bool("events", len(cfg.KafkaBrokers) > 0),
	)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		zl.Fatal("fiber.Listen error", zap.Error(err))
	}
}

func openStore(cfg *config.Config, zl *zap.Logger) (database.Store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		zl.Warn("using in-memory store; data is lost on restart")
		return database.NewMemoryStore(), nil
	}

	db, err := database.Connect(cfg.DatabaseURL, zl)
	if err != nil {
		return nil, err
	}
	return database.NewGormStore(db), nil
}
