package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/applybot/jobtracker/internal/job"
)

type Options struct {
	// PollInterval is the pause between liveness checks of a running automation.
	PollInterval time.Duration
	// InitialProgress is written when a job starts running.
	InitialProgress int
	// ProgressStep is added on every poll while the automation is alive.
	ProgressStep int
	// ProgressCap bounds simulated progress. It stays below 100 so a job never
	// looks finished before the process has exited.
	ProgressCap int
}

func DefaultOptions() Options {
	return Options{
		PollInterval:    100 * time.Millisecond,
		InitialProgress: 5,
		ProgressStep:    1,
		ProgressCap:     95,
	}
}

func (o Options) Validate() error {
	if o.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if o.InitialProgress < 0 || o.InitialProgress > o.ProgressCap {
		return fmt.Errorf("initial progress %d must be within [0, %d]", o.InitialProgress, o.ProgressCap)
	}
	if o.ProgressStep < 0 {
		return errors.New("progress step must not be negative")
	}
	if o.ProgressCap < 0 || o.ProgressCap >= 100 {
		return fmt.Errorf("progress cap %d must be within [0, 100)", o.ProgressCap)
	}
	return nil
}

// Worker runs queued jobs one at a time, in enqueue order, on a single
// background goroutine.
type Worker struct {
	store      job.Store
	automation Automation
	opts       Options
	log        logrus.FieldLogger

	mu       sync.Mutex
	queue    []string
	current  string
	alive    bool
	stopped  bool
	restarts int
	done     chan struct{}

	wake chan struct{}
	stop chan struct{}
}

func New(store job.Store, automation Automation, opts Options, logger logrus.FieldLogger) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		store:      store,
		automation: automation,
		opts:       opts,
		log:        logger.WithField("component", "worker"),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Start launches the processing goroutine if it is not already running.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.alive || w.stopped {
		return
	}
	w.launchLocked()
}

func (w *Worker) launchLocked() {
	done := make(chan struct{})
	w.alive = true
	w.done = done
	go w.run(done)
}

// Enqueue appends id to the queue and returns immediately. The id is not
// checked here; unknown ids are dropped when they reach the front.
//
// If the processing goroutine has died, Enqueue starts a new one.
func (w *Worker) Enqueue(id string) {
	w.mu.Lock()
	w.queue = append(w.queue, id)
	if !w.alive && !w.stopped {
		if w.done != nil {
			w.restarts++
			w.log.WithField("restarts", w.restarts).Warn("processing loop is not running, restarting it")
		}
		w.launchLocked()
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop stops dequeuing and waits for the job in flight, if any, to finish.
// Ids still in the queue are discarded; their records stay queued.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover resumes work left over by a previous process. Jobs still marked
// running were interrupted and are failed; queued jobs are enqueued again in
// creation order.
func (w *Worker) Recover(ctx context.Context) (requeued int, err error) {
	jobs, err := w.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	for _, j := range jobs {
		switch j.Status {
		case job.StatusRunning:
			w.log.WithField("job_id", j.ID).Warn("job was interrupted, marking failed")
			if err := w.store.UpdateStatus(ctx, j.ID, job.StatusUpdate{
				Status: job.StatusFailed,
				Error:  job.String("interrupted before completion"),
			}); err != nil {
				return requeued, fmt.Errorf("fail interrupted job %s: %w", j.ID, err)
			}
		case job.StatusQueued:
			w.Enqueue(j.ID)
			requeued++
		}
	}
	return requeued, nil
}

type Stats struct {
	Queued   int    `json:"queued"`
	Current  string `json:"current,omitempty"`
	Alive    bool   `json:"alive"`
	Restarts int    `json:"restarts"`
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Queued:   len(w.queue),
		Current:  w.current,
		Alive:    w.alive,
		Restarts: w.restarts,
	}
}

func (w *Worker) run(done chan struct{}) {
	defer func() {
		if p := recover(); p != nil {
			w.log.WithField("panic", p).Error("processing loop crashed")
		}
		w.mu.Lock()
		w.alive = false
		w.current = ""
		w.mu.Unlock()
		close(done)
	}()

	for {
		id, ok := w.next()
		if !ok {
			return
		}
		w.handle(id)

		w.mu.Lock()
		w.current = ""
		w.mu.Unlock()
	}
}

// next blocks until an id is available or the worker is stopped.
func (w *Worker) next() (string, bool) {
	for {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return "", false
		}
		if len(w.queue) > 0 {
			id := w.queue[0]
			w.queue[0] = ""
			w.queue = w.queue[1:]
			w.current = id
			w.mu.Unlock()
			return id, true
		}
		w.mu.Unlock()

		select {
		case <-w.wake:
		case <-w.stop:
			return "", false
		}
	}
}

func (w *Worker) handle(id string) {
	ctx := context.Background()
	logger := w.log.WithField("job_id", id)

	j, ok, err := w.store.Get(ctx, id)
	if err != nil {
		logger.WithError(err).Error("load job, dropping")
		return
	}
	if !ok {
		logger.Debug("job not found, dropping")
		return
	}

	w.execute(ctx, j, logger)
}

// execute drives one job to a terminal state. Failures of any kind after the
// job is marked running end up in the job record, never in the loop.
func (w *Worker) execute(ctx context.Context, j *job.Job, logger logrus.FieldLogger) {
	progress := w.opts.InitialProgress
	w.setStatus(ctx, logger, j.ID, job.StatusUpdate{Status: job.StatusRunning, Progress: job.Int(progress)})
	logger.Info("job started")

	defer func() {
		if p := recover(); p != nil {
			w.fail(ctx, logger, j.ID, fmt.Sprintf("automation panicked: %v", p))
		}
	}()

	code, err := w.runAutomation(ctx, j, progress, logger)
	switch {
	case err != nil:
		w.fail(ctx, logger, j.ID, err.Error())
	case code != 0:
		w.fail(ctx, logger, j.ID, fmt.Sprintf("automation exited with code %d", code))
	default:
		w.setStatus(ctx, logger, j.ID, job.StatusUpdate{Status: job.StatusCompleted, Progress: job.Int(100)})
		logger.Info("job completed")
	}
}

func (w *Worker) runAutomation(ctx context.Context, j *job.Job, progress int, logger logrus.FieldLogger) (int, error) {
	run, err := w.automation.Start(ctx, j)
	if err != nil {
		return 0, err
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		code, exited, err := run.Poll()
		if err != nil {
			return code, err
		}
		if exited {
			return code, nil
		}

		progress = min(progress+w.opts.ProgressStep, w.opts.ProgressCap)
		w.setStatus(ctx, logger, j.ID, job.StatusUpdate{Status: job.StatusRunning, Progress: job.Int(progress)})

		<-ticker.C
	}
}

func (w *Worker) fail(ctx context.Context, logger logrus.FieldLogger, id, msg string) {
	w.setStatus(ctx, logger, id, job.StatusUpdate{Status: job.StatusFailed, Error: job.String(msg)})
	logger.WithField("error", msg).Warn("job failed")
}

func (w *Worker) setStatus(ctx context.Context, logger logrus.FieldLogger, id string, u job.StatusUpdate) {
	if err := w.store.UpdateStatus(ctx, id, u); err != nil {
		logger.WithError(err).WithField("status", u.Status).Error("update job status")
	}
}
