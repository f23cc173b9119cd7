package controller

// SubmitRequest is the body of POST /submissions.
type SubmitRequest struct {
	ProblemID  string `json:"problemId" binding:"required"`
	UserID     string `json:"userId"`
	ContestID  string `json:"contestId"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"sourceCode" binding:"required"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	SubmissionID string `json:"submissionId"`
	Status       string `json:"status"`
}
