package worker

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned by SubmitJob when every worker is busy and the
	// queue has no room left.
	ErrQueueFull = errors.New("worker: job queue full")
	// ErrStopped is returned by SubmitJob after Stop.
	ErrStopped = errors.New("worker: dispatcher stopped")
)

// Job represents a unit of work to be executed.
type Job interface {
	Execute() error // The method that performs the actual work
	ID() string     // A unique identifier for the job
}

// Discarder is implemented by jobs that must be told when they will never run.
type Discarder interface {
	Discard(err error)
}

func discard(job Job, err error) {
	if d, ok := job.(Discarder); ok {
		d.Discard(err)
	}
}

// Worker is responsible for processing jobs.
// It runs in its own goroutine and receives jobs on its own channel.
type Worker struct {
	ID         int
	WorkerPool chan chan Job   // A pool of channels, used to register this worker's job channel
	JobChannel chan Job        // A channel specific to this worker, to receive jobs
	Quit       chan struct{}   // Closed to signal the worker to stop
	Wg         *sync.WaitGroup // To signal when this worker has finished
	Log        *logrus.Logger
}

// NewWorker creates a new Worker.
func NewWorker(id int, workerPool chan chan Job, wg *sync.WaitGroup, log *logrus.Logger) Worker {
	return Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Quit:       make(chan struct{}),
		Wg:         wg,
		Log:        log,
	}
}

// Start makes the Worker listen for jobs on its JobChannel.
func (w Worker) Start() {
	w.Wg.Add(1)
	go func() {
		defer w.Wg.Done()
		for {
			// Register the current worker's JobChannel to the worker pool.
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-w.Quit:
				return
			}

			select {
			case job := <-w.JobChannel:
				if w.stopping() {
					discard(job, ErrStopped)
					return
				}
				w.run(job)
			case <-w.Quit:
				w.Log.Debugf("Worker %d: Stopping", w.ID)
				return
			}
		}
	}()
}

// stopping reports whether Quit is closed. A job received after that is not run.
func (w Worker) stopping() bool {
	select {
	case <-w.Quit:
		return true
	default:
		return false
	}
}

func (w Worker) run(job Job) {
	entry := w.Log.WithFields(logrus.Fields{"worker": w.ID, "job_id": job.ID()})
	entry.Debug("Started job")
	if err := job.Execute(); err != nil {
		entry.WithError(err).Warn("Job failed")
		return
	}
	entry.Debug("Finished job")
}

// Dispatcher manages a pool of workers and dispatches jobs to them.
// At most MaxWorkers jobs run at once; up to the queue size more may wait.
type Dispatcher struct {
	MaxWorkers int
	WorkerPool chan chan Job // A pool of worker job channels
	JobQueue   chan Job      // A buffered channel for incoming jobs
	Workers    []Worker
	Wg         sync.WaitGroup // To wait for all workers to finish
	Quit       chan struct{}  // Closed to signal the dispatcher and workers to stop
	Log        *logrus.Logger

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(maxWorkers int, jobQueueSize int, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		MaxWorkers: maxWorkers,
		WorkerPool: make(chan chan Job, maxWorkers),
		JobQueue:   make(chan Job, jobQueueSize),
		Workers:    make([]Worker, 0, maxWorkers),
		Quit:       make(chan struct{}),
		Log:        log,
	}
}

// Run starts the dispatcher and its workers.
func (d *Dispatcher) Run() {
	d.Log.Infof("Dispatcher starting with %d workers (queue size %d)", d.MaxWorkers, cap(d.JobQueue))
	for i := 1; i <= d.MaxWorkers; i++ {
		worker := NewWorker(i, d.WorkerPool, &d.Wg, d.Log)
		d.Workers = append(d.Workers, worker)
		worker.Start()
	}

	d.Wg.Add(1)
	go d.dispatch()
}

// dispatch hands queued jobs to idle workers. It waits for a worker before
// taking the next job so that JobQueue fills up while all workers are busy.
func (d *Dispatcher) dispatch() {
	defer d.Wg.Done()
	for {
		var jobChannel chan Job
		select {
		case jobChannel = <-d.WorkerPool:
		case <-d.Quit:
			return
		}

		select {
		case job := <-d.JobQueue:
			if d.stopping() {
				discard(job, ErrStopped)
				return
			}
			select {
			case jobChannel <- job:
			case <-d.Quit:
				discard(job, ErrStopped)
				return
			}
		case <-d.Quit:
			return
		}
	}
}

func (d *Dispatcher) stopping() bool {
	select {
	case <-d.Quit:
		return true
	default:
		return false
	}
}

// SubmitJob adds a job to the queue without blocking.
func (d *Dispatcher) SubmitJob(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	select {
	case d.JobQueue <- job:
		d.Log.WithField("job_id", job.ID()).Debug("Dispatcher: job queued")
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of jobs waiting for a worker.
func (d *Dispatcher) Pending() int {
	return len(d.JobQueue)
}

// Stop shuts down the dispatcher and all its workers. Running jobs finish
// first; once Quit is closed no queued job is started, and the ones still in
// the queue are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.Log.Info("Dispatcher: Initiating shutdown...")
	close(d.Quit)
	for _, worker := range d.Workers {
		close(worker.Quit)
	}

	// Wait for all workers to complete their current jobs and exit.
	d.Wg.Wait()

	dropped := 0
	for {
		select {
		case job := <-d.JobQueue:
			discard(job, ErrStopped)
			dropped++
			continue
		default:
		}
		break
	}
	if dropped > 0 {
		d.Log.Warnf("Dispatcher: dropped %d queued jobs", dropped)
	}
	d.Log.Info("Dispatcher: Shutdown complete.")
}
