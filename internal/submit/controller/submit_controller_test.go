package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"arenajudge/internal/common/http/middleware"
	"arenajudge/internal/judge/model"
	"arenajudge/internal/submit/controller"
	"arenajudge/internal/submit/service"
	appErr "arenajudge/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	inputs   []service.SubmitInput
	submitID string
	err      error
	sub      model.Submission
	statuses []model.JudgeStatusResponse
}

func (f *fakeSubmitter) SubmitForJudging(ctx context.Context, input service.SubmitInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	return f.submitID, f.err
}

func (f *fakeSubmitter) GetSubmission(ctx context.Context, submissionID string) (model.Submission, error) {
	if f.sub.ID != submissionID {
		return model.Submission{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
	}
	return f.sub, nil
}

// GetStatus walks through statuses, repeating the last one.
func (f *fakeSubmitter) GetStatus(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 || f.statuses[0].SubmissionID != submissionID {
		return model.JudgeStatusResponse{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
	}
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return status, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(svc controller.Submitter) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Trace())
	controller.NewSubmitController(svc, 10*time.Millisecond).RegisterRoutes(r)
	return r
}

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func TestCreateSubmission(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		body       string
		header     map[string]string
		err        error
		wantStatus int
		wantUser   string
	}{
		{
			name:       "accepted",
			body:       `{"problemId":"p1","userId":"u1","language":"python","sourceCode":"print(1)"}`,
			header:     map[string]string{"Idempotency-Key": " key-1 "},
			wantStatus: http.StatusAccepted,
			wantUser:   "u1",
		},
		{
			name:       "header user wins",
			body:       `{"problemId":"p1","userId":"u1","language":"python","sourceCode":"print(1)"}`,
			header:     map[string]string{middleware.UserIDHeader: "u9"},
			wantStatus: http.StatusAccepted,
			wantUser:   "u9",
		},
		{
			name:       "missing fields",
			body:       `{"problemId":"p1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "queue full",
			body:       `{"problemId":"p1","userId":"u1","language":"cpp","sourceCode":"int main(){}"}`,
			err:        appErr.New(appErr.JudgeQueueFull).WithMessage("the judge is busy, please try again"),
			wantStatus: http.StatusServiceUnavailable,
			wantUser:   "u1",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeSubmitter{submitID: "sub-1", err: tt.err}
			req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			newRouter(svc).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantUser == "" {
				if len(svc.inputs) != 0 {
					t.Fatalf("expected service not called, got %+v", svc.inputs)
				}
				return
			}
			if len(svc.inputs) != 1 || svc.inputs[0].UserID != tt.wantUser {
				t.Fatalf("expected user %s, got %+v", tt.wantUser, svc.inputs)
			}
			if tt.header["Idempotency-Key"] != "" && svc.inputs[0].IdempotencyKey != "key-1" {
				t.Fatalf("expected trimmed idempotency key, got %q", svc.inputs[0].IdempotencyKey)
			}
			if tt.wantStatus == http.StatusAccepted {
				var env envelope
				if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				var resp controller.SubmitResponse
				if err := json.Unmarshal(env.Data, &resp); err != nil {
					t.Fatalf("decode data: %v", err)
				}
				if resp.SubmissionID != "sub-1" || resp.Status != "Queued" {
					t.Fatalf("unexpected response %+v", resp)
				}
			}
		})
	}
}

func TestGetSubmission(t *testing.T) {
	t.Parallel()
	svc := &fakeSubmitter{sub: model.Submission{ID: "sub-1", Status: model.StatusAccepted, SourceCode: "print(1)"}}
	r := newRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submissions/sub-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var got model.Submission
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got.SourceCode != "print(1)" || got.Status != model.StatusAccepted {
		t.Fatalf("unexpected submission %+v", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submissions/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetStatus(t *testing.T) {
	t.Parallel()
	svc := &fakeSubmitter{statuses: []model.JudgeStatusResponse{{SubmissionID: "sub-1", Status: model.StatusRunning}}}
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submissions/sub-1/status", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"Running"`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestWatchStreamsUntilFinal(t *testing.T) {
	t.Parallel()
	svc := &fakeSubmitter{statuses: []model.JudgeStatusResponse{
		{SubmissionID: "sub-1", Status: model.StatusQueued},
		{SubmissionID: "sub-1", Status: model.StatusQueued},
		{SubmissionID: "sub-1", Status: model.StatusRunning, Progress: model.Progress{TotalTests: 2, DoneTests: 1}},
		{SubmissionID: "sub-1", Status: model.StatusAccepted, TestsPassed: 2, Progress: model.Progress{TotalTests: 2, DoneTests: 2}},
	}}
	srv := httptest.NewServer(newRouter(svc))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/submissions/sub-1/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var got []model.Status
	for {
		var status model.JudgeStatusResponse
		if err := conn.ReadJSON(&status); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal close, got %v", err)
			}
			break
		}
		got = append(got, status.Status)
	}
	want := []model.Status{model.StatusQueued, model.StatusRunning, model.StatusAccepted}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestWatchUnknownSubmission(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	newRouter(&fakeSubmitter{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submissions/nope/watch", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
