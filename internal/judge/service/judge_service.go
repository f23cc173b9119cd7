// Package service schedules judge tasks and records their outcome.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arenajudge/internal/common/mq"
	"arenajudge/internal/judge/model"
	"arenajudge/internal/judge/problemclient"
	"arenajudge/internal/judge/repository"
	"arenajudge/internal/judge/sandbox"
	"arenajudge/internal/judge/sandbox/result"
	appErr "arenajudge/pkg/errors"
	"arenajudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// SystemErrorMessage is the only error text a user sees for a SystemError verdict.
const SystemErrorMessage = "the judge could not evaluate this submission, please try again"

// SourceLoader fetches submitted source code.
type SourceLoader interface {
	Load(ctx context.Context, key, hash string) (string, error)
}

// SubmissionStore records terminal verdicts.
type SubmissionStore interface {
	// Finalize writes verdict unless the submission is already terminal.
	// It reports whether the row was updated.
	Finalize(ctx context.Context, submissionID string, verdict model.Verdict) (bool, error)
}

// Service handles judge tasks.
type Service struct {
	scheduler   *Scheduler
	problems    problemclient.Reader
	sources     SourceLoader
	submissions SubmissionStore
	statusRepo  *repository.StatusRepository
	publisher   repository.StatusEventPublisher

	retryQueue    mq.Producer
	retryTopic    string
	deadLetter    string
	poolRetryMax  int
	poolRetryBase time.Duration
	poolRetryMaxD time.Duration

	ioRetries      int
	ioRetryBase    time.Duration
	ioRetryMax     time.Duration
	problemTimeout time.Duration
	storageTimeout time.Duration
	statusTimeout  time.Duration

	now func() time.Time
}

// Config holds service dependencies and settings.
type Config struct {
	Scheduler   *Scheduler
	Problems    problemclient.Reader
	Sources     SourceLoader
	Submissions SubmissionStore
	StatusRepo  *repository.StatusRepository
	// Publisher is optional; without it no final status events are sent.
	Publisher repository.StatusEventPublisher

	// RetryQueue receives messages rejected with JudgeQueueFull.
	RetryQueue        mq.Producer
	RetryTopic        string
	DeadLetterTopic   string
	PoolRetryMax      int
	PoolRetryBase     time.Duration
	PoolRetryMaxDelay time.Duration

	// IORetries bounds retries of problem, source and verdict IO.
	IORetries      int
	IORetryBase    time.Duration
	IORetryMax     time.Duration
	ProblemTimeout time.Duration
	StorageTimeout time.Duration
	StatusTimeout  time.Duration
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem reader is required")
	}
	if cfg.Sources == nil {
		return nil, fmt.Errorf("source loader is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission store is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	return &Service{
		scheduler:      cfg.Scheduler,
		problems:       cfg.Problems,
		sources:        cfg.Sources,
		submissions:    cfg.Submissions,
		statusRepo:     cfg.StatusRepo,
		publisher:      cfg.Publisher,
		retryQueue:     cfg.RetryQueue,
		retryTopic:     cfg.RetryTopic,
		deadLetter:     cfg.DeadLetterTopic,
		poolRetryMax:   cfg.PoolRetryMax,
		poolRetryBase:  cfg.PoolRetryBase,
		poolRetryMaxD:  cfg.PoolRetryMaxDelay,
		ioRetries:      cfg.IORetries,
		ioRetryBase:    cfg.IORetryBase,
		ioRetryMax:     cfg.IORetryMax,
		problemTimeout: cfg.ProblemTimeout,
		storageTimeout: cfg.StorageTimeout,
		statusTimeout:  cfg.StatusTimeout,
		now:            time.Now,
	}, nil
}

// Enqueue loads the inputs of a judge task and hands it to the scheduler.
//
// It returns JudgeQueueFull when the scheduler has no room. Failures to load
// the problem or source are recorded as SystemError and reported through the
// returned Future, which is already resolved.
func (s *Service) Enqueue(ctx context.Context, payload model.JudgeMessage) (*Future, error) {
	if err := validateMessage(payload); err != nil {
		return nil, err
	}

	cfg, source, err := s.loadInputs(ctx, payload)
	if err != nil {
		s.Abandon(ctx, payload, err)
		future := newFuture()
		future.resolve(result.JudgeResult{}, err, 0)
		return future, nil
	}

	queued := model.JudgeStatusResponse{
		SubmissionID: payload.SubmissionID,
		ContestID:    payload.ContestID,
		Status:       model.StatusQueued,
		Language:     payload.LanguageID,
		Progress:     model.Progress{TotalTests: len(cfg.TestCases)},
	}
	if err := s.saveStatus(ctx, queued); err != nil {
		logger.Warn(ctx, "save queued status failed", zap.String("submission_id", payload.SubmissionID), zap.Error(err))
	}

	task := Task{
		Request: sandbox.JudgeRequest{
			SubmissionID: payload.SubmissionID,
			Language:     payload.LanguageID,
			Source:       source,
			Config:       cfg,
			QueuedAt:     s.queuedAt(payload),
		},
		Contest: payload.IsContest(),
		OnComplete: func(ctx context.Context, res result.JudgeResult, err error) {
			if err != nil {
				s.Abandon(ctx, payload, err)
				return
			}
			s.finalize(ctx, payload, res)
		},
	}
	return s.scheduler.Submit(ctx, task)
}

// HandleMessage processes a judge task message and waits for its verdict.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.JudgeMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "decode message failed")
	}

	future, err := s.Enqueue(ctx, payload)
	if err != nil {
		if appErr.Is(err, appErr.JudgeQueueFull) {
			return s.requeueForPoolFull(ctx, payload, msg)
		}
		return err
	}
	if _, err := future.Wait(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// ReportStatus updates intermediate judge status in cache.
func (s *Service) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	status := model.JudgeStatusResponse{
		SubmissionID:  update.SubmissionID,
		Status:        update.Status,
		Language:      update.Language,
		TestsPassed:   update.TestsPassed,
		CompileTimeMs: update.CompileTimeMs,
		Progress: model.Progress{
			TotalTests: update.TotalTests,
			DoneTests:  update.DoneTests,
		},
	}
	if err := s.saveStatus(ctx, status); err != nil {
		logger.Warn(ctx, "update intermediate status failed", zap.String("submission_id", update.SubmissionID), zap.Error(err))
		return err
	}
	return nil
}

// Abandon records SystemError for a submission the judge could not evaluate
// and raises an operator alert. cause never reaches the user-visible record.
func (s *Service) Abandon(ctx context.Context, payload model.JudgeMessage, cause error) {
	logger.Error(ctx, "judge gave up on submission",
		zap.String("submission_id", payload.SubmissionID),
		zap.String("problem_id", payload.ProblemID),
		zap.String("language", payload.LanguageID),
		zap.Error(cause),
	)
	now := s.now()
	verdict := model.Verdict{
		Status:           model.StatusSystemError,
		SubmissionTimeMs: elapsedMs(s.queuedAt(payload), now),
		ErrorMessage:     SystemErrorMessage,
		FinishedAt:       now,
	}
	s.record(ctx, payload, verdict, 0, true)
}

func (s *Service) finalize(ctx context.Context, payload model.JudgeMessage, res result.JudgeResult) {
	verdict := res.Verdict()
	verdict.FinishedAt = s.now()
	s.record(ctx, payload, verdict, len(res.Tests), false)
}

// record writes a terminal verdict to the store, then to the live status and the event topic.
// Nothing past the store write happens when the submission was already terminal.
func (s *Service) record(ctx context.Context, payload model.JudgeMessage, verdict model.Verdict, doneTests int, alert bool) {
	var updated bool
	err := retryWithBackoff(ctx, s.ioRetries, s.ioRetryBase, s.ioRetryMax, func(ctx context.Context) error {
		var err error
		updated, err = s.submissions.Finalize(ctx, payload.SubmissionID, verdict)
		return err
	})
	if err != nil {
		logger.Error(ctx, "record verdict failed",
			zap.String("submission_id", payload.SubmissionID),
			zap.String("status", string(verdict.Status)),
			zap.Error(err),
		)
		return
	}
	if !updated {
		logger.Info(ctx, "submission already finalized", zap.String("submission_id", payload.SubmissionID))
		return
	}

	status := model.JudgeStatusResponse{
		SubmissionID:     payload.SubmissionID,
		ContestID:        payload.ContestID,
		Status:           verdict.Status,
		Language:         payload.LanguageID,
		TestsPassed:      verdict.TestsPassed,
		CompileTimeMs:    verdict.CompileTimeMs,
		RunTimeMs:        verdict.RunTimeMs,
		SubmissionTimeMs: verdict.SubmissionTimeMs,
		CompileOutput:    verdict.CompileOutput,
		ErrorMessage:     verdict.ErrorMessage,
		Progress:         model.Progress{TotalTests: verdict.TotalTests, DoneTests: doneTests},
		UpdatedAt:        verdict.FinishedAt.UnixMilli(),
	}
	if err := s.saveStatus(ctx, status); err != nil {
		logger.Warn(ctx, "save final status failed", zap.String("submission_id", payload.SubmissionID), zap.Error(err))
	}
	if s.publisher == nil {
		return
	}
	event := model.StatusEvent{
		ProblemID: payload.ProblemID,
		UserID:    payload.UserID,
		Status:    status,
		Alert:     alert,
	}
	if err := s.publisher.PublishFinalStatus(ctx, event); err != nil {
		logger.Warn(ctx, "publish final status failed", zap.String("submission_id", payload.SubmissionID), zap.Error(err))
	}
}

func (s *Service) loadInputs(ctx context.Context, payload model.JudgeMessage) (model.ProblemConfig, string, error) {
	var cfg model.ProblemConfig
	err := retryWithBackoff(ctx, s.ioRetries, s.ioRetryBase, s.ioRetryMax, func(ctx context.Context) error {
		ctxProblem := ctx
		if s.problemTimeout > 0 {
			var cancel context.CancelFunc
			ctxProblem, cancel = context.WithTimeout(ctx, s.problemTimeout)
			defer cancel()
		}
		var err error
		cfg, err = s.problems.GetJudgeConfig(ctxProblem, payload.ProblemID)
		return err
	})
	if err != nil {
		return model.ProblemConfig{}, "", err
	}
	if len(cfg.TestCases) == 0 {
		return model.ProblemConfig{}, "", appErr.Newf(appErr.TestCaseNotFound, "problem %s has no test cases", payload.ProblemID)
	}

	var source string
	err = retryWithBackoff(ctx, s.ioRetries, s.ioRetryBase, s.ioRetryMax, func(ctx context.Context) error {
		ctxStorage := ctx
		if s.storageTimeout > 0 {
			var cancel context.CancelFunc
			ctxStorage, cancel = context.WithTimeout(ctx, s.storageTimeout)
			defer cancel()
		}
		var err error
		source, err = s.sources.Load(ctxStorage, payload.SourceKey, payload.SourceHash)
		return err
	})
	if err != nil {
		return model.ProblemConfig{}, "", err
	}
	return cfg, source, nil
}

func (s *Service) requeueForPoolFull(ctx context.Context, payload model.JudgeMessage, msg *mq.Message) error {
	if s.retryQueue == nil || s.retryTopic == "" {
		return appErr.New(appErr.JudgeQueueFull).WithMessage("judge queue is full")
	}
	exhausted := s.poolRetryMax > 0 && ParsePoolRetryCount(msg.Headers) >= s.poolRetryMax
	err := RequeueForPoolFull(ctx, s.retryQueue, s.retryTopic, s.deadLetter, s.poolRetryMax, s.poolRetryBase, s.poolRetryMaxD, msg)
	if exhausted {
		s.Abandon(ctx, payload, appErr.New(appErr.JudgeQueueFull).WithMessage("judge queue stayed full"))
		return nil
	}
	return err
}

func (s *Service) saveStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	return s.statusRepo.Save(ctxStatus, status)
}

func (s *Service) queuedAt(payload model.JudgeMessage) time.Time {
	if payload.QueuedAt <= 0 {
		return s.now()
	}
	return time.UnixMilli(payload.QueuedAt)
}

func elapsedMs(from, to time.Time) int64 {
	ms := to.Sub(from).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func validateMessage(payload model.JudgeMessage) error {
	if payload.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if payload.ProblemID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	if payload.LanguageID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if payload.SourceKey == "" {
		return appErr.ValidationError("source_key", "required")
	}
	return nil
}
