// Package transcription schedules model invocations on the worker pool and
// exposes their output as normalized segments.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"podpirate/whisper-service/internal/whisper"
	"podpirate/whisper-service/internal/worker"
	"podpirate/whisper-service/models"
)

// Submitter accepts jobs without blocking. *worker.Dispatcher implements it.
type Submitter interface {
	SubmitJob(job worker.Job) error
}

// Service runs transcriptions against the process-wide model.
type Service struct {
	model      whisper.Model
	dispatcher Submitter
	log        *logrus.Logger
	beamSize   int
}

// NewService creates a Service that decodes with whisper.DefaultBeamSize.
func NewService(model whisper.Model, dispatcher Submitter, log *logrus.Logger) *Service {
	return &Service{
		model:      model,
		dispatcher: dispatcher,
		log:        log,
		beamSize:   whisper.DefaultBeamSize,
	}
}

// Start queues a transcription of audioPath. The file must stay in place
// until the returned Stream is closed. Submission errors such as
// worker.ErrQueueFull are returned as is.
func (s *Service) Start(ctx context.Context, requestID, audioPath string) (*Stream, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	job := newTranscribeJob(jobCtx, s.model, s.log, uuid.NewString(), requestID, audioPath,
		whisper.Options{BeamSize: s.beamSize})

	if err := s.dispatcher.SubmitJob(job); err != nil {
		cancel()
		return nil, err
	}
	return &Stream{job: job, cancel: cancel}, nil
}

// Transcribe runs a transcription to completion and collects the result.
func (s *Service) Transcribe(ctx context.Context, requestID, audioPath string) (models.TranscriptionResult, error) {
	stream, err := s.Start(ctx, requestID, audioPath)
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	defer stream.Close()

	result := models.TranscriptionResult{Segments: []models.TranscriptSegment{}}
	for {
		seg, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.TranscriptionResult{}, fmt.Errorf("transcription failed: %w", err)
		}
		result.Segments = append(result.Segments, seg)
	}
	result.TranscriptionInfo = stream.Info()
	return result, nil
}

// Stream yields the segments of one transcription in model order.
type Stream struct {
	job       *TranscribeJob
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Next returns the next segment, or io.EOF once the model is done.
func (s *Stream) Next() (models.TranscriptSegment, error) {
	seg, ok := <-s.job.segments
	if ok {
		return seg, nil
	}
	if s.job.err != nil {
		return models.TranscriptSegment{}, s.job.err
	}
	return models.TranscriptSegment{}, io.EOF
}

// Info is valid once Next has returned io.EOF.
func (s *Stream) Info() models.TranscriptionInfo {
	<-s.job.done
	return s.job.info
}

// Close cancels the transcription. It returns at once for a job that never
// started and otherwise waits for the model to let go of the audio file.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.job.cancelPending() {
			return
		}
		<-s.job.done
	})
}
