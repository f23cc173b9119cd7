package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"arenajudge/internal/judge/sandbox"
	"arenajudge/internal/judge/sandbox/observer"
	"arenajudge/internal/judge/sandbox/result"
	appErr "arenajudge/pkg/errors"
	"arenajudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Executor judges one submission.
type Executor interface {
	Execute(ctx context.Context, req sandbox.JudgeRequest) (result.JudgeResult, error)
}

// CompletionFunc receives the outcome of a task on the worker goroutine.
// err is non-nil when every attempt failed or the task was dropped at shutdown.
type CompletionFunc func(ctx context.Context, res result.JudgeResult, err error)

// Task is one unit of scheduled work.
type Task struct {
	Request sandbox.JudgeRequest
	// Contest tasks are served before practice tasks when prioritization is on.
	Contest bool
	// OnComplete runs before the future resolves.
	OnComplete CompletionFunc
}

// Future resolves once a task has finished or has been dropped.
type Future struct {
	done     chan struct{}
	res      result.JudgeResult
	err      error
	attempts int
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed when the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (result.JudgeResult, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return result.JudgeResult{}, ctx.Err()
	}
}

// Attempts returns how many times the task was executed.
func (f *Future) Attempts() int {
	<-f.done
	return f.attempts
}

func (f *Future) resolve(res result.JudgeResult, err error, attempts int) {
	f.res = res
	f.err = err
	f.attempts = attempts
	close(f.done)
}

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	Executor Executor
	// PoolSize is the number of submissions judged at once.
	PoolSize int
	// QueueSize bounds tasks waiting for a slot.
	QueueSize         int
	PrioritizeContest bool
	// MaxRetries bounds re-executions after an infrastructure failure.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// Timeout bounds one attempt. Zero disables it.
	Timeout time.Duration
	Metrics observer.MetricsRecorder
}

type queuedTask struct {
	task       Task
	ctx        context.Context
	future     *Future
	enqueuedAt time.Time
}

// Scheduler runs tasks on a fixed pool of workers fed by a bounded FIFO queue.
type Scheduler struct {
	executor          Executor
	poolSize          int
	queueSize         int
	prioritizeContest bool
	maxRetries        int
	retryBase         time.Duration
	retryMax          time.Duration
	timeout           time.Duration
	metrics           observer.MetricsRecorder

	mu       sync.Mutex
	contest  []*queuedTask
	practice []*queuedTask
	closed   bool
	wake     chan struct{}
}

// NewScheduler creates a new scheduler. Call Run to start the workers.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.PoolSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &Scheduler{
		executor:          cfg.Executor,
		poolSize:          cfg.PoolSize,
		queueSize:         cfg.QueueSize,
		prioritizeContest: cfg.PrioritizeContest,
		maxRetries:        cfg.MaxRetries,
		retryBase:         cfg.RetryBaseDelay,
		retryMax:          cfg.RetryMaxDelay,
		timeout:           cfg.Timeout,
		metrics:           metrics,
		wake:              make(chan struct{}, 1),
	}, nil
}

// Submit enqueues task. It fails fast with JudgeQueueFull when the queue is at capacity.
func (s *Scheduler) Submit(ctx context.Context, task Task) (*Future, error) {
	if task.Request.SubmissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	item := &queuedTask{
		task:       task,
		ctx:        context.WithoutCancel(ctx),
		future:     newFuture(),
		enqueuedAt: time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("scheduler is stopped")
	}
	if len(s.contest)+len(s.practice) >= s.queueSize {
		s.mu.Unlock()
		return nil, appErr.New(appErr.JudgeQueueFull).WithMessage("judge queue is full")
	}
	if task.Contest && s.prioritizeContest {
		s.contest = append(s.contest, item)
	} else {
		s.practice = append(s.practice, item)
	}
	depth := len(s.contest) + len(s.practice)
	s.mu.Unlock()

	s.metrics.SetQueueDepth(depth)
	s.signal()
	return item.future, nil
}

// Depth returns the number of tasks waiting for a slot.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contest) + len(s.practice)
}

// Run starts the workers and blocks until ctx is done and in-flight tasks finish.
// Tasks still queued at shutdown complete with ServiceUnavailable.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.poolSize; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			s.workerLoop(ctx, slot)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
	s.drain()
	return nil
}

func (s *Scheduler) workerLoop(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}
		item := s.next()
		if item == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		s.execute(item, slot)
	}
}

// next pops the oldest task, contest queue first.
func (s *Scheduler) next() *queuedTask {
	s.mu.Lock()
	var item *queuedTask
	switch {
	case len(s.contest) > 0:
		item = s.contest[0]
		s.contest[0] = nil
		s.contest = s.contest[1:]
	case len(s.practice) > 0:
		item = s.practice[0]
		s.practice[0] = nil
		s.practice = s.practice[1:]
	}
	depth := len(s.contest) + len(s.practice)
	s.mu.Unlock()

	if item != nil {
		s.metrics.SetQueueDepth(depth)
		if depth > 0 {
			s.signal()
		}
	}
	return item
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) execute(item *queuedTask, slot int) {
	ctx := item.ctx
	submissionID := item.task.Request.SubmissionID
	logger.Debug(ctx, "judge task started",
		zap.String("submission_id", submissionID),
		zap.Int("slot", slot),
		zap.Duration("queued_for", time.Since(item.enqueuedAt)),
	)

	var (
		res      result.JudgeResult
		err      error
		attempts int
	)
	for {
		attempts++
		res, err = s.attempt(ctx, item.task.Request)
		if err == nil || !IsRetryable(err) || attempts > s.maxRetries {
			break
		}
		delay := ComputePoolBackoff(attempts-1, s.retryBase, s.retryMax)
		logger.Warn(ctx, "judge attempt failed, retrying",
			zap.String("submission_id", submissionID),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		s.metrics.ObserveRetry(ctx, strconv.Itoa(int(appErr.GetCode(err))))
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	if item.task.OnComplete != nil {
		item.task.OnComplete(ctx, res, err)
	}
	item.future.resolve(res, err, attempts)
}

func (s *Scheduler) attempt(ctx context.Context, req sandbox.JudgeRequest) (res result.JudgeResult, err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = appErr.New(appErr.JudgeSystemError).WithMessagef("judge panicked: %v", r)
		}
	}()
	return s.executor.Execute(ctx, req)
}

func (s *Scheduler) drain() {
	s.mu.Lock()
	s.closed = true
	pending := make([]*queuedTask, 0, len(s.contest)+len(s.practice))
	pending = append(pending, s.contest...)
	pending = append(pending, s.practice...)
	s.contest = nil
	s.practice = nil
	s.mu.Unlock()

	s.metrics.SetQueueDepth(0)
	for _, item := range pending {
		err := appErr.New(appErr.ServiceUnavailable).WithMessage("scheduler stopped")
		if item.task.OnComplete != nil {
			item.task.OnComplete(item.ctx, result.JudgeResult{}, err)
		}
		item.future.resolve(result.JudgeResult{}, err, 0)
	}
}

// IsRetryable reports whether err is an infrastructure failure worth another attempt.
func IsRetryable(err error) bool {
	switch appErr.GetCode(err) {
	case appErr.JudgeSystemError, appErr.InternalServerError, appErr.ServiceUnavailable,
		appErr.Timeout, appErr.DatabaseError, appErr.CacheError:
		return true
	}
	return false
}
