package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestGetCodeThroughWrapping(t *testing.T) {
	base := New(JudgeQueueFull)
	wrapped := fmt.Errorf("dispatch: %w", base)

	if code := GetCode(wrapped); code != JudgeQueueFull {
		t.Fatalf("expected %d, got %d", JudgeQueueFull, code)
	}
	if !Is(wrapped, JudgeQueueFull) {
		t.Fatalf("expected wrapped error to carry JudgeQueueFull")
	}
	if GetCode(stderrors.New("plain")) != InternalServerError {
		t.Fatalf("expected plain errors to map to InternalServerError")
	}
	if GetCode(nil) != Success {
		t.Fatalf("expected nil to map to Success")
	}
}

func TestSystemErrorKeepsCause(t *testing.T) {
	cause := stderrors.New("cgroup: no space left on device")
	err := SystemError(cause, "create sandbox failed")

	if err.Code != JudgeSystemError {
		t.Fatalf("expected JudgeSystemError, got %d", err.Code)
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable with errors.Is")
	}
	if err.Error() != "create sandbox failed" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{Success, 200},
		{SubmissionNotFound, 404},
		{ContestNotFound, 404},
		{ContestNotRunning, 403},
		{RankingNotAvailable, 409},
		{SubmitTooFrequently, 429},
		{JudgeQueueFull, 503},
		{ValidationFailed, 400},
		{LanguageNotSupported, 400},
		{JudgeSystemError, 500},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("code %d: expected %d, got %d", tc.code, tc.want, got)
		}
	}
}

func TestValidationErrorDetails(t *testing.T) {
	err := ValidationError("language", "unsupported")
	if err.Details["field"] != "language" || err.Details["reason"] != "unsupported" {
		t.Fatalf("unexpected details: %v", err.Details)
	}
}

func TestWrapKeepsCauseMessage(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := Wrap(cause, DatabaseError).WithDetail("table", "submissions")

	if err.Message != cause.Error() {
		t.Fatalf("expected message %q, got %q", cause.Error(), err.Message)
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if err.Details["table"] != "submissions" {
		t.Fatalf("expected detail, got %v", err.Details)
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}
