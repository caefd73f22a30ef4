package transcription

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"podpirate/whisper-service/internal/whisper"
	"podpirate/whisper-service/models"
	"podpirate/whisper-service/utils"
)

const (
	statePending int32 = iota
	stateRunning
	stateCancelled
)

// TranscribeJob runs one model invocation on a dispatcher worker and hands the
// segments to the Stream that owns it.
type TranscribeJob struct {
	JobID     string
	RequestID string
	AudioPath string
	Options   whisper.Options

	ctx   context.Context
	model whisper.Model
	log   *logrus.Entry

	state    int32
	segments chan models.TranscriptSegment
	done     chan struct{}
	once     sync.Once

	// Written before segments is closed.
	info models.TranscriptionInfo
	err  error
}

func newTranscribeJob(ctx context.Context, model whisper.Model, log *logrus.Logger, jobID, requestID, audioPath string, opts whisper.Options) *TranscribeJob {
	return &TranscribeJob{
		JobID:     jobID,
		RequestID: requestID,
		AudioPath: audioPath,
		Options:   opts,
		ctx:       ctx,
		model:     model,
		log: log.WithFields(logrus.Fields{
			"job_id":     jobID,
			"request_id": requestID,
		}),
		segments: make(chan models.TranscriptSegment),
		done:     make(chan struct{}),
	}
}

// ID returns the unique identifier of the job.
func (j *TranscribeJob) ID() string {
	return j.JobID
}

// Execute runs the model unless the job was cancelled while it was queued.
func (j *TranscribeJob) Execute() error {
	if !atomic.CompareAndSwapInt32(&j.state, statePending, stateRunning) {
		j.log.Debug("Skipping cancelled transcription")
		return nil
	}

	j.log.WithField("audio_path", j.AudioPath).Debug("Executing transcription")
	info, err := j.transcribe()
	j.finish(info, err)
	return err
}

func (j *TranscribeJob) transcribe() (models.TranscriptionInfo, error) {
	stream, err := j.model.Transcribe(j.ctx, j.AudioPath, j.Options)
	if err != nil {
		return models.TranscriptionInfo{}, err
	}
	defer stream.Close()

	for {
		seg, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return normalizeInfo(stream.Info()), nil
		}
		if err != nil {
			return models.TranscriptionInfo{}, err
		}

		select {
		case j.segments <- normalizeSegment(seg):
		case <-j.ctx.Done():
			return models.TranscriptionInfo{}, j.ctx.Err()
		}
	}
}

// Discard is called by the dispatcher when the job will never run.
func (j *TranscribeJob) Discard(err error) {
	if atomic.CompareAndSwapInt32(&j.state, statePending, stateCancelled) {
		j.finish(models.TranscriptionInfo{}, err)
	}
}

// cancelPending marks a queued job as cancelled. It reports false when the job
// has already started.
func (j *TranscribeJob) cancelPending() bool {
	if atomic.CompareAndSwapInt32(&j.state, statePending, stateCancelled) {
		j.finish(models.TranscriptionInfo{}, context.Canceled)
		return true
	}
	return atomic.LoadInt32(&j.state) == stateCancelled
}

func (j *TranscribeJob) finish(info models.TranscriptionInfo, err error) {
	j.once.Do(func() {
		j.info = info
		j.err = err
		close(j.segments)
		close(j.done)
	})
}

func normalizeSegment(seg whisper.Segment) models.TranscriptSegment {
	return models.TranscriptSegment{
		Start: utils.Round2(seg.Start),
		End:   utils.Round2(seg.End),
		Text:  strings.TrimSpace(seg.Text),
	}
}

// normalizeInfo rounds the info and keeps it in range whatever the backend
// reported: language_probability in [0, 1], duration >= 0.
func normalizeInfo(info whisper.Info) models.TranscriptionInfo {
	return models.TranscriptionInfo{
		Language:            info.Language,
		LanguageProbability: utils.Round2(math.Min(math.Max(info.LanguageProbability, 0), 1)),
		Duration:            utils.Round2(math.Max(info.Duration, 0)),
	}
}
