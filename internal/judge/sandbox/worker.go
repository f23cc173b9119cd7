// Package sandbox drives one submission through compile, run and compare.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arenajudge/internal/judge/comparator"
	"arenajudge/internal/judge/language"
	"arenajudge/internal/judge/model"
	"arenajudge/internal/judge/sandbox/observer"
	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/workspace"
	appErr "arenajudge/pkg/errors"
	"arenajudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// JudgeRequest contains all data needed to judge one submission.
type JudgeRequest struct {
	SubmissionID string
	Language     string
	Source       string
	Config       model.ProblemConfig
	// QueuedAt is the intake time; SubmissionTimeMs is measured from it.
	QueuedAt time.Time
}

// StatusUpdate carries intermediate judge state.
type StatusUpdate struct {
	SubmissionID  string
	Status        model.Status
	Language      string
	TotalTests    int
	DoneTests     int
	TestsPassed   int
	CompileTimeMs int64
}

// StatusReporter persists intermediate status updates.
type StatusReporter interface {
	ReportStatus(ctx context.Context, update StatusUpdate) error
}

// WorkerConfig holds worker dependencies.
type WorkerConfig struct {
	Languages *language.Registry
	// WorkRoot is the host directory under which per-submission boxes are created.
	WorkRoot string
	// MountBox bind-mounts each box at workspace.ContainerDir inside the sandbox.
	MountBox bool
	Metrics  observer.MetricsRecorder
}

// Worker executes the judge state machine for one submission at a time.
// A Worker holds no per-submission state and is safe for concurrent use.
type Worker struct {
	languages      *language.Registry
	workRoot       string
	mountBox       bool
	metrics        observer.MetricsRecorder
	statusReporter StatusReporter
	now            func() time.Time
}

// NewWorker creates a new worker with required dependencies.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &Worker{
		languages: cfg.Languages,
		workRoot:  cfg.WorkRoot,
		mountBox:  cfg.MountBox,
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// SetStatusReporter injects a status reporter for intermediate updates.
func (w *Worker) SetStatusReporter(reporter StatusReporter) {
	w.statusReporter = reporter
}

// Execute runs the full judge workflow for one submission.
//
// Program failures end in a terminal JudgeResult with a nil error. A non-nil
// error means the judge itself failed and the result must not be recorded.
func (w *Worker) Execute(ctx context.Context, req JudgeRequest) (result.JudgeResult, error) {
	if err := validateJudgeRequest(req); err != nil {
		return result.JudgeResult{}, err
	}
	adapter, err := w.languages.Get(req.Language)
	if err != nil {
		return result.JudgeResult{}, err
	}

	queuedAt := req.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = w.now()
	}
	run := &judgeRun{
		worker: w,
		req:    req,
		state:  model.StatusQueued,
		res: result.JudgeResult{
			SubmissionID: req.SubmissionID,
			Language:     req.Language,
			Status:       model.StatusQueued,
			TotalTests:   len(req.Config.TestCases),
		},
	}

	box, err := workspace.New(w.workRoot, req.SubmissionID, w.mountBox)
	if err != nil {
		return run.res, appErr.SystemError(err, "create workspace failed")
	}
	defer func() {
		if closeErr := box.Close(); closeErr != nil {
			logger.Warn(ctx, "remove workspace failed", zap.String("submission_id", req.SubmissionID), zap.Error(closeErr))
		}
	}()

	if err := run.advance(ctx, model.StatusCompiling); err != nil {
		return run.res, err
	}
	artifact, compileMetrics, err := adapter.Compile(ctx, box, req.Source)
	run.res.CompileTimeMs = compileMetrics.TimeMs
	if err != nil {
		var compileErr *language.CompileError
		if !errors.As(err, &compileErr) {
			return run.res, err
		}
		run.res.CompileOutput = compileErr.Stderr
		return run.finish(ctx, model.StatusCompilationError, queuedAt)
	}

	var totalWallMs int64
	for i, tc := range req.Config.TestCases {
		if err := run.advance(ctx, model.StatusRunning); err != nil {
			return run.res, err
		}
		runRes, err := adapter.Run(ctx, box, artifact, tc.Input, req.Config.Limits)
		if err != nil {
			return run.res, err
		}
		totalWallMs += runRes.WallTimeMs
		run.res.RunTimeMs = meanMs(totalWallMs, i+1)

		testRes := result.TestcaseResult{
			TestID:          tc.ID,
			WallTimeMs:      runRes.WallTimeMs,
			CPUTimeMs:       runRes.CPUTimeMs,
			PeakMemoryBytes: runRes.PeakMemoryBytes,
			ExitCode:        runRes.ExitCode,
			Signal:          runRes.Signal,
		}

		if status := result.MapRunVerdict(runRes); status != model.StatusJudging {
			testRes.Status = status
			run.res.Tests = append(run.res.Tests, testRes)
			return run.finish(ctx, status, queuedAt)
		}

		if err := run.advance(ctx, model.StatusJudging); err != nil {
			return run.res, err
		}
		if !comparator.Compare(runRes.Stdout, tc.ExpectedOutput, req.Config.Policy) {
			testRes.Status = model.StatusWrongAnswer
			run.res.Tests = append(run.res.Tests, testRes)
			return run.finish(ctx, model.StatusWrongAnswer, queuedAt)
		}
		testRes.Status = model.StatusAccepted
		run.res.Tests = append(run.res.Tests, testRes)
		run.res.TestsPassed++
		run.report(ctx)
	}

	return run.finish(ctx, model.StatusAccepted, queuedAt)
}

// judgeRun tracks the state machine of one Execute call.
type judgeRun struct {
	worker *Worker
	req    JudgeRequest
	state  model.Status
	res    result.JudgeResult
}

func (r *judgeRun) advance(ctx context.Context, next model.Status) error {
	if !r.state.CanTransition(next) {
		return appErr.Newf(appErr.InvalidTransition, "invalid transition %s -> %s", r.state, next)
	}
	r.state = next
	r.res.Status = next
	if !next.IsTerminal() {
		r.report(ctx)
	}
	return nil
}

func (r *judgeRun) finish(ctx context.Context, status model.Status, queuedAt time.Time) (result.JudgeResult, error) {
	if err := r.advance(ctx, status); err != nil {
		return r.res, err
	}
	r.res.SubmissionTimeMs = r.worker.now().Sub(queuedAt).Milliseconds()
	if r.res.SubmissionTimeMs < 0 {
		r.res.SubmissionTimeMs = 0
	}
	r.worker.metrics.ObserveVerdict(ctx, r.req.Language, string(status))
	logger.Info(ctx, "judge finished",
		zap.String("submission_id", r.req.SubmissionID),
		zap.String("language", r.req.Language),
		zap.String("status", string(status)),
		zap.Int("tests_passed", r.res.TestsPassed),
		zap.Int("total_tests", r.res.TotalTests),
		zap.Int64("compile_time_ms", r.res.CompileTimeMs),
		zap.Int64("run_time_ms", r.res.RunTimeMs),
		zap.Int64("submission_time_ms", r.res.SubmissionTimeMs),
	)
	return r.res, nil
}

func (r *judgeRun) report(ctx context.Context) {
	reporter := r.worker.statusReporter
	if reporter == nil {
		return
	}
	err := reporter.ReportStatus(ctx, StatusUpdate{
		SubmissionID:  r.req.SubmissionID,
		Status:        r.state,
		Language:      r.req.Language,
		TotalTests:    r.res.TotalTests,
		DoneTests:     len(r.res.Tests),
		TestsPassed:   r.res.TestsPassed,
		CompileTimeMs: r.res.CompileTimeMs,
	})
	if err != nil {
		logger.Warn(ctx, "report judge status failed", zap.String("submission_id", r.req.SubmissionID), zap.Error(err))
	}
}

// meanMs rounds half up.
func meanMs(total int64, n int) int64 {
	if n <= 0 {
		return 0
	}
	return (total + int64(n)/2) / int64(n)
}

func validateJudgeRequest(req JudgeRequest) error {
	if req.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if req.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if len(req.Config.TestCases) == 0 {
		return appErr.New(appErr.TestCaseNotFound).WithMessage("problem has no test cases")
	}
	if _, err := comparator.ParseMode(string(req.Config.Policy.Mode)); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "invalid comparison policy")
	}
	return nil
}
