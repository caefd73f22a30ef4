package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"podpirate/whisper-service/internal/transcription"
	"podpirate/whisper-service/models"
)

// Transcriber defines the operations handlers expect from the transcription service.
// *transcription.Service implements it.
type Transcriber interface {
	Start(ctx context.Context, requestID, audioPath string) (*transcription.Stream, error)
	Transcribe(ctx context.Context, requestID, audioPath string) (models.TranscriptionResult, error)
}

// ApplicationHandler holds shared dependencies for handlers.
type ApplicationHandler struct {
	Transcriber Transcriber
	Logger      *logrus.Logger
	ModelID     string // reported by /health
	ScratchDir  string // where uploads are stored while they are transcribed
}

// NewApplicationHandler creates a new ApplicationHandler with the given dependencies.
func NewApplicationHandler(transcriber Transcriber, logger *logrus.Logger, modelID, scratchDir string) *ApplicationHandler {
	return &ApplicationHandler{
		Transcriber: transcriber,
		Logger:      logger,
		ModelID:     modelID,
		ScratchDir:  scratchDir,
	}
}

// ErrorResponse defines a common structure for error responses.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
