package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"podpirate/whisper-service/internal/scratch"
	"podpirate/whisper-service/internal/transcription"
	"podpirate/whisper-service/internal/worker"
	"podpirate/whisper-service/middleware"
	"podpirate/whisper-service/models"
	"podpirate/whisper-service/utils"
)

// MIMEApplicationNDJSON is the content type of POST /transcribe-stream.
const MIMEApplicationNDJSON = "application/x-ndjson"

// Transcribe godoc
// @Summary Transcribe an audio file
// @Description Runs the model over the uploaded file and returns every segment at once.
// @Tags transcription
// @Accept  multipart/form-data
// @Produce  json
// @Param   file formData file true "Audio file in any format ffmpeg can decode"
// @Success 200 {object} models.TranscriptionResult
// @Failure 400 {object} ErrorResponse "Missing or empty upload"
// @Failure 413 {object} ErrorResponse "Upload larger than the configured limit"
// @Failure 500 {object} ErrorResponse "Model failure"
// @Failure 503 {object} ErrorResponse "Transcription queue is full"
// @Router /transcribe [post]
func (h *ApplicationHandler) Transcribe(c *fiber.Ctx) error {
	requestID := middleware.RequestID(c)
	log := h.Logger.WithField("request_id", requestID)

	file, err := h.receiveUpload(c, log)
	if err != nil {
		return err
	}
	defer h.removeScratch(file, log)

	result, err := h.Transcriber.Transcribe(c.UserContext(), requestID, file.Path)
	if err != nil {
		return h.transcriptionError(c, log, err)
	}

	log.WithFields(logrus.Fields{
		"segments": len(result.Segments),
		"language": result.Language,
		"duration": result.Duration,
	}).Info("Transcription completed")
	return c.Status(fiber.StatusOK).JSON(result)
}

// TranscribeStream godoc
// @Summary Transcribe an audio file as a stream
// @Description Streams one JSON object per line: a line per segment as soon as it is decoded,
// @Description then a final line with "done": true and the language and duration,
// @Description or "done": true and "error" if the model fails mid-stream.
// @Tags transcription
// @Accept  multipart/form-data
// @Produce  application/x-ndjson
// @Param   file formData file true "Audio file in any format ffmpeg can decode"
// @Success 200 {object} models.TranscriptSegment "One line per segment, then a models.StreamSummary line"
// @Failure 400 {object} ErrorResponse "Missing or empty upload"
// @Failure 413 {object} ErrorResponse "Upload larger than the configured limit"
// @Failure 500 {object} ErrorResponse "Model failure before the stream started"
// @Failure 503 {object} ErrorResponse "Transcription queue is full"
// @Router /transcribe-stream [post]
func (h *ApplicationHandler) TranscribeStream(c *fiber.Ctx) error {
	requestID := middleware.RequestID(c)
	log := h.Logger.WithField("request_id", requestID)

	file, err := h.receiveUpload(c, log)
	if err != nil {
		return err
	}

	stream, err := h.Transcriber.Start(c.UserContext(), requestID, file.Path)
	if err != nil {
		h.removeScratch(file, log)
		return h.transcriptionError(c, log, err)
	}

	c.Set(fiber.HeaderContentType, MIMEApplicationNDJSON)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")

	// The body writer outlives this handler and owns the stream and the scratch file.
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.removeScratch(file, log)
		defer stream.Close()
		h.writeStream(w, stream, log)
	})
	return nil
}

func (h *ApplicationHandler) writeStream(w *bufio.Writer, stream *transcription.Stream, log *logrus.Entry) {
	enc := json.NewEncoder(w)
	count := 0
	for {
		seg, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.WithError(err).Error("Transcription failed mid-stream")
			if err := writeLine(w, enc, models.NewStreamFailure(err)); err != nil {
				log.WithError(err).Warn("Could not send the failure line")
			}
			return
		}
		if err := writeLine(w, enc, seg); err != nil {
			log.WithError(err).Warn("Client went away, cancelling transcription")
			return
		}
		count++
	}

	info := stream.Info()
	if err := writeLine(w, enc, models.NewStreamSummary(info)); err != nil {
		log.WithError(err).Warn("Could not send the final line")
		return
	}
	log.WithFields(logrus.Fields{
		"segments": count,
		"language": info.Language,
		"duration": info.Duration,
	}).Info("Streaming transcription completed")
}

// writeLine encodes v as one NDJSON line and flushes it to the client.
func writeLine(w *bufio.Writer, enc *json.Encoder, v any) error {
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.Flush()
}

// receiveUpload stores the "file" form field in a scratch file. The caller
// owns the returned file.
func (h *ApplicationHandler) receiveUpload(c *fiber.Ctx, log *logrus.Entry) (*scratch.File, error) {
	header, err := c.FormFile("file")
	if err != nil {
		log.WithError(err).Warn("Request without an uploaded file")
		return nil, fiber.NewError(fiber.StatusBadRequest, "Missing 'file' field in multipart form")
	}

	file, err := scratch.Save(h.ScratchDir, header)
	if errors.Is(err, scratch.ErrEmptyUpload) {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Uploaded file is empty")
	}
	if err != nil {
		log.WithError(err).Error("Error storing upload")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not store the uploaded file")
	}

	log.WithFields(logrus.Fields{
		"filename": header.Filename,
		"size":     file.Size,
		"scratch":  file.Path,
	}).Debug("Stored upload")
	return file, nil
}

func (h *ApplicationHandler) removeScratch(file *scratch.File, log *logrus.Entry) {
	if err := file.Remove(); err != nil {
		log.WithError(err).Error("Error removing scratch file")
	}
}

func (h *ApplicationHandler) transcriptionError(c *fiber.Ctx, log *logrus.Entry, err error) error {
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		log.Warn("Transcription queue is full, rejecting request")
		return utils.RespondWithError(c, fiber.StatusServiceUnavailable, "Transcription queue is full, try again later")
	case errors.Is(err, worker.ErrStopped):
		return utils.RespondWithError(c, fiber.StatusServiceUnavailable, "Service is shutting down")
	default:
		log.WithError(err).Error("Error transcribing audio")
		return utils.RespondWithError(c, fiber.StatusInternalServerError, fmt.Sprintf("Transcription failed: %v", err))
	}
}
