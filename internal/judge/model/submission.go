package model

import "time"

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusQueued    Status = "Queued"
	StatusCompiling Status = "Compiling"
	StatusRunning   Status = "Running"
	StatusJudging   Status = "Judging"

	StatusAccepted            Status = "Accepted"
	StatusWrongAnswer         Status = "WrongAnswer"
	StatusTimeLimitExceeded   Status = "TimeLimitExceeded"
	StatusRuntimeError        Status = "RuntimeError"
	StatusCompilationError    Status = "CompilationError"
	StatusMemoryLimitExceeded Status = "MemoryLimitExceeded"
	// StatusSystemError marks a submission the judge could not evaluate.
	StatusSystemError Status = "SystemError"
)

var transitions = map[Status][]Status{
	StatusQueued:    {StatusCompiling, StatusSystemError},
	StatusCompiling: {StatusRunning, StatusCompilationError, StatusSystemError},
	StatusRunning: {
		StatusJudging,
		StatusTimeLimitExceeded,
		StatusRuntimeError,
		StatusMemoryLimitExceeded,
		StatusSystemError,
	},
	StatusJudging: {StatusRunning, StatusAccepted, StatusWrongAnswer, StatusSystemError},
}

// TerminalStatuses lists every state a submission can finish in.
func TerminalStatuses() []Status {
	return []Status{
		StatusAccepted,
		StatusWrongAnswer,
		StatusTimeLimitExceeded,
		StatusRuntimeError,
		StatusCompilationError,
		StatusMemoryLimitExceeded,
		StatusSystemError,
	}
}

// IsTerminal reports whether s is a final verdict.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusTimeLimitExceeded, StatusRuntimeError,
		StatusCompilationError, StatusMemoryLimitExceeded, StatusSystemError:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows s -> next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Submission is one judging attempt. Fields are frozen once Status is terminal.
type Submission struct {
	ID               string    `json:"id"`
	ProblemID        string    `json:"problemId"`
	UserID           string    `json:"userId"`
	ContestID        string    `json:"contestId,omitempty"`
	Language         string    `json:"language"`
	SourceCode       string    `json:"sourceCode,omitempty"`
	SourceKey        string    `json:"-"`
	SourceHash       string    `json:"-"`
	Status           Status    `json:"status"`
	TestsPassed      int       `json:"testsPassed"`
	TotalTests       int       `json:"totalTests"`
	CompileTimeMs    int64     `json:"compileTimeMs"`
	RunTimeMs        int64     `json:"runTimeMs"`
	SubmissionTimeMs int64     `json:"submissionTimeMs"`
	CompileOutput    string    `json:"compileOutput,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	FinishedAt       time.Time `json:"finishedAt,omitzero"`
}

// Verdict is the terminal outcome written back to a submission.
type Verdict struct {
	Status           Status
	TestsPassed      int
	TotalTests       int
	CompileTimeMs    int64
	RunTimeMs        int64
	SubmissionTimeMs int64
	CompileOutput    string
	ErrorMessage     string
	FinishedAt       time.Time
}
