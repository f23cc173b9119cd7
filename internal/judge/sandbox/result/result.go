// Package result defines sandbox execution results and verdict mapping.
package result

import "arenajudge/internal/judge/model"

// RunResult captures raw sandbox execution data for one process.
type RunResult struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	Signal          string
	WallTimeMs      int64
	CPUTimeMs       int64
	PeakMemoryBytes int64
	OutputBytes     int64
	// OutputTruncated is set when Stdout holds only a prefix of what was written.
	OutputTruncated bool
	TimedOut        bool
	KilledForMemory bool
}

// Crashed reports a non-zero exit or a fatal signal.
func (r RunResult) Crashed() bool {
	return r.ExitCode != 0 || r.Signal != ""
}

// CompileMetrics reports the cost of a compile step.
type CompileMetrics struct {
	TimeMs          int64
	PeakMemoryBytes int64
}

// TestcaseResult records the outcome of one executed test.
type TestcaseResult struct {
	TestID          string
	Status          model.Status
	WallTimeMs      int64
	CPUTimeMs       int64
	PeakMemoryBytes int64
	ExitCode        int
	Signal          string
}

// JudgeResult is the orchestrator output for one submission.
type JudgeResult struct {
	SubmissionID     string
	Language         string
	Status           model.Status
	TestsPassed      int
	TotalTests       int
	CompileTimeMs    int64
	RunTimeMs        int64
	SubmissionTimeMs int64
	CompileOutput    string
	Tests            []TestcaseResult
}

// Verdict converts r into the record written to the submission store.
func (r JudgeResult) Verdict() model.Verdict {
	return model.Verdict{
		Status:           r.Status,
		TestsPassed:      r.TestsPassed,
		TotalTests:       r.TotalTests,
		CompileTimeMs:    r.CompileTimeMs,
		RunTimeMs:        r.RunTimeMs,
		SubmissionTimeMs: r.SubmissionTimeMs,
		CompileOutput:    r.CompileOutput,
	}
}

// MapRunVerdict classifies a finished run before output comparison.
// It returns StatusJudging when the output should be compared.
func MapRunVerdict(res RunResult) model.Status {
	if res.TimedOut {
		return model.StatusTimeLimitExceeded
	}
	if res.KilledForMemory {
		return model.StatusMemoryLimitExceeded
	}
	if res.Crashed() {
		return model.StatusRuntimeError
	}
	if res.OutputTruncated {
		return model.StatusWrongAnswer
	}
	return model.StatusJudging
}
