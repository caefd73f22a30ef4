package whisper

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"podpirate/whisper-service/config"
)

//go:embed assets/faster_whisper_worker.py
var workerScript []byte

// startFunc builds the worker command from the script path and its arguments.
type startFunc func(scriptPath string, args []string) *exec.Cmd

type workerRequest struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	BeamSize int    `json:"beam_size"`
}

type workerMessage struct {
	ID    string `json:"id"`
	Ready bool   `json:"ready"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
	Info  *struct {
		Language            string  `json:"language"`
		LanguageProbability float64 `json:"language_probability"`
		Duration            float64 `json:"duration"`
	} `json:"info"`
	Segment *struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segment"`
}

// FasterWhisper drives a resident faster-whisper worker process. The model is
// loaded once when the worker starts; requests are served one at a time.
type FasterWhisper struct {
	log        *logrus.Logger
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     io.Closer
	msgs       chan workerMessage
	exited     chan struct{}
	scriptPath string

	// held from Transcribe until the returned stream is closed
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewFasterWhisper starts the worker with cfg.Python and waits until the model is loaded.
func NewFasterWhisper(ctx context.Context, cfg config.ModelConfig, log *logrus.Logger) (*FasterWhisper, error) {
	return newFasterWhisper(ctx, cfg, log, func(scriptPath string, args []string) *exec.Cmd {
		return exec.Command(cfg.Python, append([]string{scriptPath}, args...)...)
	})
}

func newFasterWhisper(ctx context.Context, cfg config.ModelConfig, log *logrus.Logger, start startFunc) (*FasterWhisper, error) {
	script, err := os.CreateTemp("", "faster-whisper-worker-*.py")
	if err != nil {
		return nil, fmt.Errorf("whisper: create worker script: %w", err)
	}
	scriptPath := script.Name()
	_, err = script.Write(workerScript)
	if closeErr := script.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("whisper: write worker script: %w", err)
	}

	args := []string{
		"--model", cfg.Name,
		"--device", cfg.Device,
		"--compute-type", cfg.ComputeType,
		"--threads", strconv.Itoa(cfg.Threads),
	}
	cmd := start(scriptPath, args)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("whisper: worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("whisper: worker stdout: %w", err)
	}
	// Worker stderr (Python warnings, CTranslate2 messages) goes to our log.
	stderr := log.WriterLevel(logrus.WarnLevel)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stderr.Close()
		os.Remove(scriptPath)
		return nil, fmt.Errorf("whisper: start worker: %w", err)
	}

	w := &FasterWhisper{
		log:        log,
		cmd:        cmd,
		stdin:      stdin,
		stderr:     stderr,
		msgs:       make(chan workerMessage, 64),
		exited:     make(chan struct{}),
		scriptPath: scriptPath,
	}
	readDone := make(chan struct{})
	go func() {
		w.readLoop(stdout)
		close(readDone)
	}()
	go func() {
		// Wait closes stdout, so all output has to be consumed first.
		<-readDone
		err := cmd.Wait()
		log.WithError(err).Warn("faster-whisper worker exited")
		close(w.exited)
	}()

	if err := w.awaitReady(ctx); err != nil {
		w.Close()
		return nil, err
	}
	log.WithField("pid", cmd.Process.Pid).Info("faster-whisper worker ready")
	return w, nil
}

func (w *FasterWhisper) awaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("whisper: waiting for worker: %w", ctx.Err())
	case m, ok := <-w.msgs:
		if !ok {
			return ErrWorkerExited
		}
		if m.Error != "" {
			return fmt.Errorf("whisper: %s", m.Error)
		}
		if !m.Ready {
			return fmt.Errorf("whisper: unexpected first worker message")
		}
		return nil
	}
}

func (w *FasterWhisper) readLoop(stdout io.Reader) {
	defer close(w.msgs)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		var m workerMessage
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			w.log.WithError(err).WithField("line", scanner.Text()).Warn("Ignoring malformed worker output")
			continue
		}
		w.msgs <- m
	}
	if err := scanner.Err(); err != nil {
		w.log.WithError(err).Error("Reading worker output failed")
	}
}

func (w *FasterWhisper) exitedAlready() bool {
	select {
	case <-w.exited:
		return true
	default:
		return false
	}
}

// Transcribe sends one request to the worker. The worker is held until the
// returned stream is closed.
func (w *FasterWhisper) Transcribe(ctx context.Context, audioPath string, opts Options) (SegmentStream, error) {
	opts = normalizeOptions(opts)

	w.mu.Lock()
	if w.exitedAlready() {
		w.mu.Unlock()
		return nil, ErrWorkerExited
	}

	req := workerRequest{ID: uuid.NewString(), Path: audioPath, BeamSize: opts.BeamSize}
	line, err := json.Marshal(req)
	if err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("whisper: encode request: %w", err)
	}
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("whisper: send request: %w", err)
	}

	return &workerStream{w: w, id: req.ID, ctx: ctx}, nil
}

// Close stops the worker and removes its script.
func (w *FasterWhisper) Close() error {
	w.closeOnce.Do(func() {
		// EOF on stdin ends the worker's request loop.
		w.stdin.Close()
		select {
		case <-w.exited:
		case <-time.After(10 * time.Second):
			w.log.Warn("faster-whisper worker did not exit, killing it")
			w.cmd.Process.Kill()
			<-w.exited
		}
		w.stderr.Close()
		os.Remove(w.scriptPath)
	})
	return nil
}

type workerStream struct {
	w   *FasterWhisper
	id  string
	ctx context.Context

	info     Info
	finished bool
	// synced is set once the worker's terminal line for this request was read.
	synced    bool
	err       error
	closeOnce sync.Once
}

func (s *workerStream) Next() (Segment, error) {
	for !s.finished {
		select {
		case <-s.ctx.Done():
			s.finish(s.ctx.Err(), false)
		case m, ok := <-s.w.msgs:
			switch {
			case !ok:
				s.finish(ErrWorkerExited, true)
			case m.ID != s.id:
				s.w.log.WithField("id", m.ID).Debug("Skipping worker output for another request")
			case m.Error != "":
				s.finish(fmt.Errorf("whisper: %s", m.Error), true)
			case m.Info != nil:
				s.info = Info{
					Language:            m.Info.Language,
					LanguageProbability: m.Info.LanguageProbability,
					Duration:            m.Info.Duration,
				}
			case m.Segment != nil:
				return Segment{Start: m.Segment.Start, End: m.Segment.End, Text: m.Segment.Text}, nil
			case m.Done:
				s.finish(nil, true)
			}
		}
	}
	if s.err != nil {
		return Segment{}, s.err
	}
	return Segment{}, io.EOF
}

func (s *workerStream) finish(err error, synced bool) {
	s.finished = true
	s.synced = synced
	s.err = err
}

func (s *workerStream) Info() Info {
	return s.info
}

// Close drains whatever the worker still has to say about this request so the
// next request starts on a clean pipe, then releases the worker.
func (s *workerStream) Close() error {
	s.closeOnce.Do(func() {
		for !s.synced {
			m, ok := <-s.w.msgs
			if !ok || (m.ID == s.id && (m.Done || m.Error != "")) {
				s.synced = true
			}
		}
		s.finished = true
		s.w.mu.Unlock()
	})
	return nil
}
