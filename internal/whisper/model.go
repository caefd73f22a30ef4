// Package whisper holds the loaded speech-to-text model.
//
// A Model is created once at startup by Load and shared by every request.
// Three runtimes sit behind the same interface:
//   - faster-whisper: a resident Python worker process (default)
//   - whisper.cpp: in-process Go bindings, built with -tags whisper_cpp
//   - grpc: a remote inference server
package whisper

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"podpirate/whisper-service/config"
)

// DefaultBeamSize is the decoding beam width used for every request.
const DefaultBeamSize = 5

var (
	// ErrWorkerExited is returned once the faster-whisper worker process is gone.
	ErrWorkerExited = errors.New("whisper: worker process exited")
	// ErrBackendUnavailable is returned when the binary was built without a backend.
	ErrBackendUnavailable = errors.New("whisper: backend not available in this build")
)

// Segment is a decoded span of speech. Times are in seconds.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Info describes the whole input once decoding has finished.
type Info struct {
	Language            string
	LanguageProbability float64
	Duration            float64
}

// Options tune a single transcription.
type Options struct {
	BeamSize int
}

// SegmentStream is the lazy, finite, non-restartable output of one transcription.
type SegmentStream interface {
	// Next returns the next segment, or io.EOF after the last one.
	Next() (Segment, error)
	// Info is valid once Next has returned io.EOF.
	Info() Info
	// Close releases the invocation. It may be called before the stream is
	// exhausted and more than once.
	Close() error
}

// Model is the process-wide inference handle. Implementations are safe for
// concurrent use; they serialize internally where the runtime requires it.
type Model interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (SegmentStream, error)
	Close() error
}

// Load initializes the backend named in cfg.Backend.
func Load(ctx context.Context, cfg config.ModelConfig, log *logrus.Logger) (Model, error) {
	log.WithFields(logrus.Fields{
		"backend":      cfg.Backend,
		"model":        cfg.Name,
		"device":       cfg.Device,
		"compute_type": cfg.ComputeType,
	}).Info("Loading whisper model")

	switch cfg.Backend {
	case config.BackendFasterWhisper, "":
		m, err := NewFasterWhisper(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.BackendWhisperCpp:
		return NewWhisperCpp(cfg, log)
	case config.BackendGRPC:
		m, err := NewRemote(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("whisper: unknown backend %q (supported: faster-whisper, whisper.cpp, grpc)", cfg.Backend)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.BeamSize <= 0 {
		opts.BeamSize = DefaultBeamSize
	}
	return opts
}
