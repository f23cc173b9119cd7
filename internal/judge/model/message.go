package model

// JudgeMessage represents the Kafka payload for judge tasks.
type JudgeMessage struct {
	SubmissionID string `json:"submission_id"`
	ProblemID    string `json:"problem_id"`
	UserID       string `json:"user_id"`
	ContestID    string `json:"contest_id,omitempty"`
	LanguageID   string `json:"language_id"`
	SourceKey    string `json:"source_key"`
	SourceHash   string `json:"source_hash"`
	// QueuedAt is the intake time in unix milliseconds.
	QueuedAt int64 `json:"queued_at"`
}

// IsContest reports whether the task belongs to a contest.
func (m JudgeMessage) IsContest() bool {
	return m.ContestID != ""
}

// Progress captures test progress for a running submission.
type Progress struct {
	TotalTests int `json:"total_tests"`
	DoneTests  int `json:"done_tests"`
}

// JudgeStatusResponse is the live status stored in cache and sent on the final status topic.
type JudgeStatusResponse struct {
	SubmissionID     string   `json:"submission_id"`
	ContestID        string   `json:"contest_id,omitempty"`
	Status           Status   `json:"status"`
	Language         string   `json:"language,omitempty"`
	TestsPassed      int      `json:"tests_passed"`
	CompileTimeMs    int64    `json:"compile_time_ms"`
	RunTimeMs        int64    `json:"run_time_ms"`
	SubmissionTimeMs int64    `json:"submission_time_ms"`
	CompileOutput    string   `json:"compile_output,omitempty"`
	ErrorMessage     string   `json:"error_message,omitempty"`
	Progress         Progress `json:"progress"`
	UpdatedAt        int64    `json:"updated_at"`
}

const (
	// StatusEventFinal marks a terminal status event.
	StatusEventFinal = "final"
)

// StatusEvent is the payload published on the final status topic.
type StatusEvent struct {
	Type      string              `json:"type"`
	ProblemID string              `json:"problem_id,omitempty"`
	UserID    string              `json:"user_id,omitempty"`
	Status    JudgeStatusResponse `json:"status"`
	Alert     bool                `json:"alert,omitempty"` // the judge gave up on the submission
	CreatedAt int64               `json:"created_at"`
}
