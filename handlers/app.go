package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberSwagger "github.com/swaggo/fiber-swagger"

	_ "podpirate/whisper-service/docs" // registers the swagger spec
	"podpirate/whisper-service/middleware"
	"podpirate/whisper-service/utils"
)

// AppConfig sizes the HTTP server.
type AppConfig struct {
	BodyLimit int // bytes
}

// NewApp builds the Fiber application with every route registered.
func NewApp(h *ApplicationHandler, cfg AppConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "whisper-service",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
				message = e.Message
			}
			return utils.RespondWithError(c, code, message)
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	app.Use(middleware.RequestLogger(h.Logger))

	app.Get("/health", h.HealthCheck)
	app.Post("/transcribe", h.Transcribe)
	app.Post("/transcribe-stream", h.TranscribeStream)
	app.Get("/swagger/*", fiberSwagger.WrapHandler)

	return app
}
