//go:build whisper_cpp

package whisper

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/sirupsen/logrus"

	"podpirate/whisper-service/config"
	"podpirate/whisper-service/internal/audio"
	"podpirate/whisper-service/internal/ffmpeg"
)

// WhisperCpp runs whisper.cpp in-process. The ggml model is loaded once; each
// transcription gets its own context, and contexts run one at a time because
// they share the model's compute state.
type WhisperCpp struct {
	model      whispercpp.Model
	ffmpegPath string
	threads    uint
	log        *logrus.Logger

	// held from Transcribe until the returned stream is closed
	mu sync.Mutex
}

// NewWhisperCpp loads the ggml model named by cfg.
func NewWhisperCpp(cfg config.ModelConfig, log *logrus.Logger) (Model, error) {
	path := ggmlModelPath(cfg)
	if cfg.Device != "cpu" && cfg.Device != "auto" {
		log.WithField("device", cfg.Device).Warn("whisper.cpp picks its device at build time; ignoring device setting")
	}
	if cfg.ComputeType != "default" && cfg.ComputeType != "auto" {
		log.WithField("compute_type", cfg.ComputeType).Warn("whisper.cpp precision comes from the ggml file; ignoring compute type")
	}

	model, err := whispercpp.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	return &WhisperCpp{
		model:      model,
		ffmpegPath: cfg.FFmpegPath,
		threads:    uint(cfg.Threads),
		log:        log,
	}, nil
}

func (w *WhisperCpp) Transcribe(ctx context.Context, audioPath string, opts Options) (SegmentStream, error) {
	opts = normalizeOptions(opts)

	pcm, err := w.loadPCM(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	wctx, err := w.model.NewContext()
	if err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage("auto"); err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("whisper: set language: %w", err)
	}
	wctx.SetTranslate(false)
	wctx.SetBeamSize(opts.BeamSize)
	if w.threads > 0 {
		wctx.SetThreads(w.threads)
	}

	s := &cppStream{
		segments: make(chan Segment),
		stop:     make(chan struct{}),
		duration: pcm.Duration(),
		release:  w.mu.Unlock,
	}
	go s.run(ctx, wctx, pcm.Samples)
	return s, nil
}

// loadPCM converts the upload into a sibling 16 kHz WAV and reads it back.
func (w *WhisperCpp) loadPCM(ctx context.Context, audioPath string) (audio.PCM, error) {
	tmp, err := os.CreateTemp(filepath.Dir(audioPath), "whispercpp-*.wav")
	if err != nil {
		return audio.PCM{}, fmt.Errorf("whisper: create wav: %w", err)
	}
	wavPath := tmp.Name()
	tmp.Close()
	defer os.Remove(wavPath)

	if err := ffmpeg.ConvertToPCMWAV(ctx, w.ffmpegPath, audioPath, wavPath); err != nil {
		return audio.PCM{}, fmt.Errorf("whisper: %w", err)
	}
	pcm, err := audio.ReadMonoWAV(wavPath)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("whisper: %w", err)
	}
	return pcm, nil
}

func (w *WhisperCpp) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model.Close()
}

type cppStream struct {
	segments chan Segment
	stop     chan struct{}
	duration float64
	release  func()

	// written by run before segments is closed
	language string
	err      error

	finished  bool
	closeOnce sync.Once
}

func (s *cppStream) run(ctx context.Context, wctx whispercpp.Context, samples []float32) {
	defer close(s.segments)

	keepGoing := func() bool {
		select {
		case <-s.stop:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	onSegment := func(seg whispercpp.Segment) {
		out := Segment{Start: seg.Start.Seconds(), End: seg.End.Seconds(), Text: seg.Text}
		select {
		case s.segments <- out:
		case <-s.stop:
		}
	}

	if err := wctx.Process(samples, keepGoing, onSegment, nil); err != nil {
		s.err = fmt.Errorf("whisper: process: %w", err)
		return
	}
	if err := ctx.Err(); err != nil {
		s.err = err
		return
	}
	s.language = wctx.DetectedLanguage()
}

func (s *cppStream) Next() (Segment, error) {
	if !s.finished {
		if seg, ok := <-s.segments; ok {
			return seg, nil
		}
		s.finished = true
	}
	if s.err != nil {
		return Segment{}, s.err
	}
	return Segment{}, io.EOF
}

func (s *cppStream) Info() Info {
	info := Info{Language: s.language, Duration: s.duration}
	// The bindings do not expose the detection probability.
	if s.language != "" {
		info.LanguageProbability = 1
	}
	return info
}

func (s *cppStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		for range s.segments {
		}
		s.finished = true
		s.release()
	})
	return nil
}
