package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/snuttify/snuttify-agent/internal/status"
)

const (
	DefaultQueueCapacity = 16
	DefaultWorkerCount   = 2
)

var (
	ErrQueueFull       = errors.New("processing queue is full")
	ErrQueueNotStarted = errors.New("processing queue not started")
	ErrQueueClosed     = errors.New("processing queue is shut down")
)

// Processor runs one video's pipeline.
type Processor interface {
	Run(ctx context.Context, videoID, source string) error
}

type item struct {
	videoID string
	source  string
}

// Queue is an in-memory bounded queue of uploaded videos with a worker pool.
type Queue struct {
	proc    Processor
	tracker *status.Tracker
	log     *slog.Logger
	ch      chan item
	workers int

	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

func NewQueue(proc Processor, tracker *status.Tracker, logger *slog.Logger, capacity, workers int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	return &Queue{
		proc:    proc,
		tracker: tracker,
		log:     logger,
		ch:      make(chan item, capacity),
		workers: workers,
	}
}

// Start launches the worker goroutines. Workers stop when ctx is cancelled
// or Shutdown is called.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.started = true
	return nil
}

func (q *Queue) worker(ctx context.Context, idx int) {
	defer q.wg.Done()
	log := q.log.With("worker", idx)
	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopping due to context cancellation")
			return
		case it, ok := <-q.ch:
			if !ok {
				log.Debug("queue closed, worker exiting")
				return
			}
			start := time.Now()
			if err := q.proc.Run(ctx, it.videoID, it.source); err != nil {
				log.Warn("video processing failed", "video_id", it.videoID, "duration", time.Since(start))
			} else {
				log.Info("video processed", "video_id", it.videoID, "duration", time.Since(start))
			}
		}
	}
}

// Submit marks videoID queued and schedules it without blocking. When the
// queue is full the tracker entry is removed and ErrQueueFull returned.
func (q *Queue) Submit(videoID, source string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return ErrQueueNotStarted
	}
	if q.closed {
		return ErrQueueClosed
	}

	q.tracker.Set(videoID, status.StatusQueued, status.ProgressQueued, "waiting for a worker")
	select {
	case q.ch <- item{videoID: videoID, source: source}:
		return nil
	default:
		q.tracker.Forget(videoID)
		return ErrQueueFull
	}
}

// Pending returns the number of videos waiting for a worker.
func (q *Queue) Pending() int {
	return len(q.ch)
}

// Shutdown stops accepting work, cancels running pipelines and waits for
// workers up to deadline.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		if q.cancel != nil {
			q.cancel()
		}
		close(q.ch)
		q.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			q.log.Warn("queue shutdown deadline reached; workers may still be running")
		}
	})
}
