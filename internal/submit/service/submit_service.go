// Package service implements submission intake and queries.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arenajudge/internal/common/cache"
	"arenajudge/internal/judge/language"
	"arenajudge/internal/judge/model"
	"arenajudge/internal/judge/problemclient"
	judgeRepo "arenajudge/internal/judge/repository"
	judgeService "arenajudge/internal/judge/service"
	"arenajudge/internal/submit/repository"
	appErr "arenajudge/pkg/errors"
	"arenajudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "submit:idempotency:"
	rateUserKeyPrefix    = "submit:rate:user:"
	processingMarker     = "processing"

	queueFullMessage = "the judge is busy, please try again"
)

// SourceStore saves and loads submitted source code.
type SourceStore interface {
	Save(ctx context.Context, submissionID, source string) (key string, hash string, err error)
	Load(ctx context.Context, key, hash string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ContestGate decides whether a contest accepts submissions at a given time.
type ContestGate interface {
	CheckOpen(ctx context.Context, contestID string, at time.Time) error
}

// RateLimitConfig holds per-user throttling.
type RateLimitConfig struct {
	UserMax int64
	Window  time.Duration
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration
	Cache   time.Duration
	Storage time.Duration
	Status  time.Duration
}

// Config holds submit service dependencies and settings.
type Config struct {
	SubmissionRepo repository.SubmissionRepository
	StatusRepo     *judgeRepo.StatusRepository
	Sources        SourceStore
	Problems       problemclient.Reader
	Cache          cache.Cache
	Dispatcher     Dispatcher
	// Contests is optional; without it contest submissions are not time-gated.
	Contests ContestGate

	FinalStatusHandlers []FinalStatusHandler
	MaxCodeBytes        int
	IdempotencyTTL      time.Duration
	RateLimit           RateLimitConfig
	Timeouts            TimeoutConfig
}

// SubmitService handles submission intake and dispatch.
type SubmitService struct {
	submissionRepo repository.SubmissionRepository
	statusRepo     *judgeRepo.StatusRepository
	sources        SourceStore
	problems       problemclient.Reader
	cache          cache.Cache
	dispatcher     Dispatcher
	contests       ContestGate

	finalStatusHandlers []FinalStatusHandler
	maxCodeBytes        int
	idempotencyTTL      time.Duration
	rateLimit           RateLimitConfig
	timeouts            TimeoutConfig

	now func() time.Time
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	ProblemID      string
	UserID         string
	ContestID      string
	Language       string
	SourceCode     string
	IdempotencyKey string
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Sources == nil {
		return nil, fmt.Errorf("source store is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem reader is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	return &SubmitService{
		submissionRepo:      cfg.SubmissionRepo,
		statusRepo:          cfg.StatusRepo,
		sources:             cfg.Sources,
		problems:            cfg.Problems,
		cache:               cfg.Cache,
		dispatcher:          cfg.Dispatcher,
		contests:            cfg.Contests,
		finalStatusHandlers: cfg.FinalStatusHandlers,
		maxCodeBytes:        cfg.MaxCodeBytes,
		idempotencyTTL:      cfg.IdempotencyTTL,
		rateLimit:           cfg.RateLimit,
		timeouts:            cfg.Timeouts,
		now:                 time.Now,
	}, nil
}

// SubmitForJudging stores a submission in Queued state and dispatches it.
// Judging happens asynchronously; the returned id is used to poll the outcome.
func (s *SubmitService) SubmitForJudging(ctx context.Context, input SubmitInput) (string, error) {
	input.Language = strings.ToLower(strings.TrimSpace(input.Language))
	if err := s.validateInput(input); err != nil {
		return "", err
	}
	if err := s.checkRateLimit(ctx, input.UserID); err != nil {
		return "", err
	}

	acquired, existingID, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if !acquired && existingID != "" {
		return existingID, nil
	}

	submissionID, err := s.submit(ctx, input)
	if err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return "", err
	}
	s.finalizeIdempotency(ctx, input.IdempotencyKey, submissionID, acquired)
	return submissionID, nil
}

func (s *SubmitService) submit(ctx context.Context, input SubmitInput) (string, error) {
	createdAt := s.now()
	cfg, err := s.problems.GetJudgeConfig(ctx, input.ProblemID)
	if err != nil {
		return "", err
	}
	if len(cfg.TestCases) == 0 {
		return "", appErr.Newf(appErr.TestCaseNotFound, "problem %s has no test cases", input.ProblemID)
	}
	if input.ContestID != "" && s.contests != nil {
		if err := s.contests.CheckOpen(ctx, input.ContestID, createdAt); err != nil {
			return "", err
		}
	}

	submissionID := uuid.NewString()
	ctxStorage, cancel := withTimeout(ctx, s.timeouts.Storage)
	sourceKey, sourceHash, err := s.sources.Save(ctxStorage, submissionID, input.SourceCode)
	cancel()
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SubmissionCreateFailed, "store source failed")
	}

	submission := &model.Submission{
		ID:         submissionID,
		ProblemID:  input.ProblemID,
		UserID:     input.UserID,
		ContestID:  input.ContestID,
		Language:   input.Language,
		SourceKey:  sourceKey,
		SourceHash: sourceHash,
		Status:     model.StatusQueued,
		TotalTests: len(cfg.TestCases),
		CreatedAt:  createdAt,
	}
	ctxDB, cancel := withTimeout(ctx, s.timeouts.DB)
	err = s.submissionRepo.Create(ctxDB, nil, submission)
	cancel()
	if err != nil {
		if delErr := s.sources.Delete(ctx, sourceKey); delErr != nil {
			logger.Warn(ctx, "remove orphaned source failed", zap.String("submission_id", submissionID), zap.Error(delErr))
		}
		if errors.Is(err, repository.ErrSubmissionExists) {
			return "", appErr.Wrapf(err, appErr.RecordAlreadyExists, "submission %s already exists", submissionID)
		}
		return "", appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}

	queued := model.JudgeStatusResponse{
		SubmissionID: submissionID,
		ContestID:    input.ContestID,
		Status:       model.StatusQueued,
		Language:     input.Language,
		Progress:     model.Progress{TotalTests: len(cfg.TestCases)},
	}
	if err := s.saveStatus(ctx, queued); err != nil {
		logger.Warn(ctx, "save queued status failed", zap.String("submission_id", submissionID), zap.Error(err))
	}

	msg := model.JudgeMessage{
		SubmissionID: submissionID,
		ProblemID:    input.ProblemID,
		UserID:       input.UserID,
		ContestID:    input.ContestID,
		LanguageID:   input.Language,
		SourceKey:    sourceKey,
		SourceHash:   sourceHash,
		QueuedAt:     createdAt.UnixMilli(),
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		s.failDispatch(ctx, submission, err)
		if appErr.Is(err, appErr.JudgeQueueFull) {
			return "", err
		}
		return "", appErr.Wrapf(err, appErr.ServiceUnavailable, "dispatch submission failed")
	}
	logger.Info(ctx, "submission queued",
		zap.String("submission_id", submissionID),
		zap.String("problem_id", input.ProblemID),
		zap.String("contest_id", input.ContestID),
		zap.String("language", input.Language),
	)
	return submissionID, nil
}

// failDispatch closes a submission that never reached the judge.
func (s *SubmitService) failDispatch(ctx context.Context, submission *model.Submission, cause error) {
	message := queueFullMessage
	if !appErr.Is(cause, appErr.JudgeQueueFull) {
		message = judgeService.SystemErrorMessage
		logger.Error(ctx, "dispatch submission failed", zap.String("submission_id", submission.ID), zap.Error(cause))
	}
	now := s.now()
	verdict := model.Verdict{
		Status:           model.StatusSystemError,
		TotalTests:       submission.TotalTests,
		SubmissionTimeMs: now.Sub(submission.CreatedAt).Milliseconds(),
		ErrorMessage:     message,
		FinishedAt:       now,
	}
	if _, err := s.submissionRepo.Finalize(ctx, submission.ID, verdict); err != nil {
		logger.Error(ctx, "record dispatch failure failed", zap.String("submission_id", submission.ID), zap.Error(err))
	}
	status := model.JudgeStatusResponse{
		SubmissionID: submission.ID,
		ContestID:    submission.ContestID,
		Status:       model.StatusSystemError,
		Language:     submission.Language,
		ErrorMessage: message,
		Progress:     model.Progress{TotalTests: submission.TotalTests},
	}
	if err := s.saveStatus(ctx, status); err != nil {
		logger.Warn(ctx, "save failed status failed", zap.String("submission_id", submission.ID), zap.Error(err))
	}
}

// GetSubmission returns a submission with its source. Non-terminal submissions
// carry the live status kept by the judge.
func (s *SubmitService) GetSubmission(ctx context.Context, submissionID string) (model.Submission, error) {
	if submissionID == "" {
		return model.Submission{}, appErr.ValidationError("submission_id", "required")
	}
	ctxDB, cancel := withTimeout(ctx, s.timeouts.DB)
	submission, err := s.submissionRepo.GetByID(ctxDB, nil, submissionID)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return model.Submission{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	out := *submission

	if !out.Status.IsTerminal() {
		if live, err := s.liveStatus(ctx, submissionID); err == nil {
			overlayStatus(&out, live)
		}
	}

	ctxStorage, cancel := withTimeout(ctx, s.timeouts.Storage)
	source, err := s.sources.Load(ctxStorage, out.SourceKey, out.SourceHash)
	cancel()
	if err != nil {
		return model.Submission{}, err
	}
	out.SourceCode = source
	return out, nil
}

// GetStatus returns the live status of a submission, falling back to the stored row.
func (s *SubmitService) GetStatus(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	if submissionID == "" {
		return model.JudgeStatusResponse{}, appErr.ValidationError("submission_id", "required")
	}
	live, err := s.liveStatus(ctx, submissionID)
	if err == nil {
		return live, nil
	}
	if !appErr.Is(err, appErr.NotFound) {
		logger.Warn(ctx, "read live status failed", zap.String("submission_id", submissionID), zap.Error(err))
	}

	ctxDB, cancel := withTimeout(ctx, s.timeouts.DB)
	defer cancel()
	submission, err := s.submissionRepo.GetByID(ctxDB, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return model.JudgeStatusResponse{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return statusFromSubmission(submission), nil
}

func (s *SubmitService) liveStatus(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	ctxStatus, cancel := withTimeout(ctx, s.timeouts.Status)
	defer cancel()
	return s.statusRepo.Get(ctxStatus, submissionID)
}

func (s *SubmitService) validateInput(input SubmitInput) error {
	if strings.TrimSpace(input.ProblemID) == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(input.UserID) == "" {
		return appErr.ValidationError("user_id", "required")
	}
	if input.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if !language.IsSupported(input.Language) {
		return appErr.Newf(appErr.LanguageNotSupported, "language %s is not supported", input.Language)
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if s.maxCodeBytes > 0 && len(input.SourceCode) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithMessage("source code too large")
	}
	return nil
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID string) error {
	if s.rateLimit.Window <= 0 || s.rateLimit.UserMax <= 0 {
		return nil
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	allowed, err := cache.AllowInWindow(ctxCache, s.cache, rateUserKeyPrefix+userID, s.rateLimit.UserMax, s.rateLimit.Window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if !allowed {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

func (s *SubmitService) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, "", nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()

	ok, err := s.cache.SetNX(ctxCache, cacheKey, processingMarker, s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err := s.cache.Get(ctxCache, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *SubmitService) finalizeIdempotency(ctx context.Context, key, submissionID string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" {
		return
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	if err := s.cache.Set(ctxCache, idempotencyKeyPrefix+key, submissionID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" {
		return
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	if err := s.cache.Del(ctxCache, idempotencyKeyPrefix+key); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) saveStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	ctxStatus, cancel := withTimeout(ctx, s.timeouts.Status)
	defer cancel()
	return s.statusRepo.Save(ctxStatus, status)
}

func overlayStatus(submission *model.Submission, live model.JudgeStatusResponse) {
	submission.Status = live.Status
	submission.TestsPassed = live.TestsPassed
	submission.CompileTimeMs = live.CompileTimeMs
	submission.RunTimeMs = live.RunTimeMs
	submission.SubmissionTimeMs = live.SubmissionTimeMs
	submission.CompileOutput = live.CompileOutput
	submission.ErrorMessage = live.ErrorMessage
	if live.Progress.TotalTests > 0 {
		submission.TotalTests = live.Progress.TotalTests
	}
}

func statusFromSubmission(submission *model.Submission) model.JudgeStatusResponse {
	status := model.JudgeStatusResponse{
		SubmissionID:     submission.ID,
		ContestID:        submission.ContestID,
		Status:           submission.Status,
		Language:         submission.Language,
		TestsPassed:      submission.TestsPassed,
		CompileTimeMs:    submission.CompileTimeMs,
		RunTimeMs:        submission.RunTimeMs,
		SubmissionTimeMs: submission.SubmissionTimeMs,
		CompileOutput:    submission.CompileOutput,
		ErrorMessage:     submission.ErrorMessage,
		Progress:         model.Progress{TotalTests: submission.TotalTests},
	}
	if submission.Status.IsTerminal() {
		status.Progress.DoneTests = submission.TestsPassed
	}
	if !submission.FinishedAt.IsZero() {
		status.UpdatedAt = submission.FinishedAt.UnixMilli()
	}
	return status
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
