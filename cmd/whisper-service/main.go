// @title whisper-service API
// @version 1.0
// @description Speech-to-text over HTTP: batch JSON and streaming NDJSON transcription.
// @BasePath /
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"podpirate/whisper-service/config"
	"podpirate/whisper-service/handlers"
	"podpirate/whisper-service/internal/transcription"
	"podpirate/whisper-service/internal/whisper"
	"podpirate/whisper-service/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := config.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Server.ScratchDir, 0o700); err != nil {
		log.WithError(err).Fatal("Failed to create scratch directory")
	}

	// The model is loaded before the listener exists; a failure here ends the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := whisper.Load(ctx, cfg.Model, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load whisper model")
	}
	log.WithField("model", cfg.Model.Name).Info("Model loaded")

	dispatcher := worker.NewDispatcher(cfg.Server.MaxConcurrency, cfg.Server.QueueSize, log)
	dispatcher.Run()

	service := transcription.NewService(model, dispatcher, log)
	handler := handlers.NewApplicationHandler(service, log, cfg.Model.Name, cfg.Server.ScratchDir)
	app := handlers.NewApp(handler, handlers.AppConfig{BodyLimit: cfg.MaxUploadBytes()})

	listenErr := make(chan error, 1)
	go func() {
		log.Infof("Starting whisper-service on %s...", cfg.Addr())
		listenErr <- app.Listen(cfg.Addr())
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down whisper-service...")
	case err := <-listenErr:
		log.WithError(err).Error("Server stopped unexpectedly")
	}

	shutdown(app.ShutdownWithTimeout, dispatcher, model, log)
}

func shutdown(stopServer func(time.Duration) error, dispatcher *worker.Dispatcher, model whisper.Model, log *logrus.Logger) {
	if err := stopServer(shutdownTimeout); err != nil {
		log.WithError(err).Warn("Server did not shut down cleanly")
	}
	dispatcher.Stop()
	if err := model.Close(); err != nil {
		log.WithError(err).Warn("Error closing whisper model")
	}
	log.Info("whisper-service shut down gracefully.")
}
