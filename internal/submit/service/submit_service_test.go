package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"arenajudge/internal/common/cache"
	"arenajudge/internal/common/db"
	"arenajudge/internal/common/storage"
	"arenajudge/internal/judge/model"
	judgeRepo "arenajudge/internal/judge/repository"
	"arenajudge/internal/submit/repository"
	"arenajudge/internal/submit/service"
	appErr "arenajudge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memoryRepo struct {
	mu   sync.Mutex
	rows map[string]model.Submission
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[string]model.Submission)}
}

func (m *memoryRepo) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[submission.ID] = *submission
	return nil
}

func (m *memoryRepo) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	return &row, nil
}

func (m *memoryRepo) Finalize(ctx context.Context, submissionID string, verdict model.Verdict) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[submissionID]
	if !ok || row.Status.IsTerminal() {
		return false, nil
	}
	row.Status = verdict.Status
	row.TestsPassed = verdict.TestsPassed
	row.CompileTimeMs = verdict.CompileTimeMs
	row.RunTimeMs = verdict.RunTimeMs
	row.SubmissionTimeMs = verdict.SubmissionTimeMs
	row.CompileOutput = verdict.CompileOutput
	row.ErrorMessage = verdict.ErrorMessage
	row.FinishedAt = verdict.FinishedAt
	m.rows[submissionID] = row
	return true, nil
}

func (m *memoryRepo) get(id string) model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

type fakeProblems struct{}

func (fakeProblems) GetJudgeConfig(ctx context.Context, problemID string) (model.ProblemConfig, error) {
	switch problemID {
	case "p1":
		return model.ProblemConfig{ProblemID: "p1", TestCases: []model.TestCase{{ID: "t1"}, {ID: "t2"}}}, nil
	case "empty":
		return model.ProblemConfig{ProblemID: "empty"}, nil
	}
	return model.ProblemConfig{}, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", problemID)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	msgs []model.JudgeMessage
	err  error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg model.JudgeMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

type closedContests struct{}

func (closedContests) CheckOpen(ctx context.Context, contestID string, at time.Time) error {
	if contestID == "closed" {
		return appErr.New(appErr.ContestNotRunning).WithMessage("contest is not running")
	}
	return nil
}

type recordingHandler struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (r *recordingHandler) HandleFinalStatus(ctx context.Context, event model.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type fixture struct {
	svc        *service.SubmitService
	repo       *memoryRepo
	dispatcher *fakeDispatcher
	statusRepo *judgeRepo.StatusRepository
	handler    *recordingHandler
}

func newFixture(t *testing.T, rate service.RateLimitConfig) *fixture {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	sources, err := storage.NewSourceStore(storage.NewMemoryStorage(), "sources", 1<<20)
	if err != nil {
		t.Fatalf("new source store: %v", err)
	}
	f := &fixture{
		repo:       newMemoryRepo(),
		dispatcher: &fakeDispatcher{},
		statusRepo: judgeRepo.NewStatusRepository(c, time.Hour),
		handler:    &recordingHandler{},
	}
	f.svc, err = service.NewSubmitService(service.Config{
		SubmissionRepo:      f.repo,
		StatusRepo:          f.statusRepo,
		Sources:             sources,
		Problems:            fakeProblems{},
		Cache:               c,
		Dispatcher:          f.dispatcher,
		Contests:            closedContests{},
		FinalStatusHandlers: []service.FinalStatusHandler{f.handler},
		MaxCodeBytes:        64,
		RateLimit:           rate,
	})
	if err != nil {
		t.Fatalf("new submit service: %v", err)
	}
	return f
}

func validInput() service.SubmitInput {
	return service.SubmitInput{ProblemID: "p1", UserID: "u1", ContestID: "c1", Language: "Python", SourceCode: "print(1+1)"}
}

func TestSubmitForJudging(t *testing.T) {
	t.Parallel()
	f := newFixture(t, service.RateLimitConfig{})
	ctx := context.Background()

	id, err := f.svc.SubmitForJudging(ctx, validInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	row := f.repo.get(id)
	if row.Status != model.StatusQueued || row.Language != "python" || row.TotalTests != 2 || row.SourceKey == "" {
		t.Fatalf("unexpected stored row %+v", row)
	}
	if len(f.dispatcher.msgs) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(f.dispatcher.msgs))
	}
	msg := f.dispatcher.msgs[0]
	if msg.SubmissionID != id || !msg.IsContest() || msg.SourceHash != row.SourceHash || msg.QueuedAt != row.CreatedAt.UnixMilli() {
		t.Fatalf("unexpected judge message %+v", msg)
	}

	got, err := f.svc.GetSubmission(ctx, id)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if got.SourceCode != "print(1+1)" || got.Status != model.StatusQueued {
		t.Fatalf("unexpected submission %+v", got)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		mutate   func(in *service.SubmitInput)
		wantCode appErr.ErrorCode
	}{
		{name: "unsupported language", mutate: func(in *service.SubmitInput) { in.Language = "ruby" }, wantCode: appErr.LanguageNotSupported},
		{name: "missing problem", mutate: func(in *service.SubmitInput) { in.ProblemID = "" }, wantCode: appErr.ValidationFailed},
		{name: "empty source", mutate: func(in *service.SubmitInput) { in.SourceCode = "  " }, wantCode: appErr.ValidationFailed},
		{name: "too large", mutate: func(in *service.SubmitInput) { in.SourceCode = string(make([]byte, 65)) + "x" }, wantCode: appErr.CodeTooLarge},
		{name: "unknown problem", mutate: func(in *service.SubmitInput) { in.ProblemID = "nope" }, wantCode: appErr.ProblemNotFound},
		{name: "no test cases", mutate: func(in *service.SubmitInput) { in.ProblemID = "empty" }, wantCode: appErr.TestCaseNotFound},
		{name: "closed contest", mutate: func(in *service.SubmitInput) { in.ContestID = "closed" }, wantCode: appErr.ContestNotRunning},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, service.RateLimitConfig{})
			in := validInput()
			tt.mutate(&in)
			if _, err := f.svc.SubmitForJudging(context.Background(), in); !appErr.Is(err, tt.wantCode) {
				t.Fatalf("expected code %d, got %v", tt.wantCode, err)
			}
			if len(f.dispatcher.msgs) != 0 {
				t.Fatalf("expected nothing dispatched")
			}
		})
	}
}

func TestSubmitRateLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, service.RateLimitConfig{UserMax: 2, Window: time.Minute})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := f.svc.SubmitForJudging(ctx, validInput()); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := f.svc.SubmitForJudging(ctx, validInput()); !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected SubmitTooFrequently, got %v", err)
	}
	other := validInput()
	other.UserID = "u2"
	if _, err := f.svc.SubmitForJudging(ctx, other); err != nil {
		t.Fatalf("expected other user allowed, got %v", err)
	}
}

func TestSubmitIdempotency(t *testing.T) {
	t.Parallel()
	f := newFixture(t, service.RateLimitConfig{})
	ctx := context.Background()
	in := validInput()
	in.IdempotencyKey = "key-1"

	first, err := f.svc.SubmitForJudging(ctx, in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := f.svc.SubmitForJudging(ctx, in)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first != second {
		t.Fatalf("expected same id, got %s and %s", first, second)
	}
	if len(f.dispatcher.msgs) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(f.dispatcher.msgs))
	}
}

func TestSubmitBackpressure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, service.RateLimitConfig{})
	f.dispatcher.err = appErr.New(appErr.JudgeQueueFull).WithMessage("judge queue is full")
	ctx := context.Background()
	in := validInput()
	in.IdempotencyKey = "retry-me"

	if _, err := f.svc.SubmitForJudging(ctx, in); !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
	var rejected model.Submission
	for _, row := range f.repo.rows {
		rejected = row
	}
	if rejected.Status != model.StatusSystemError || rejected.ErrorMessage == "" {
		t.Fatalf("expected rejected row closed as SystemError, got %+v", rejected)
	}

	f.dispatcher.err = nil
	id, err := f.svc.SubmitForJudging(ctx, in)
	if err != nil {
		t.Fatalf("expected idempotency key released, got %v", err)
	}
	if id == rejected.ID {
		t.Fatalf("expected a new submission after the rejected one")
	}
}

func TestGetSubmissionOverlaysLiveStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, service.RateLimitConfig{})
	ctx := context.Background()
	id, err := f.svc.SubmitForJudging(ctx, validInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.statusRepo.Save(ctx, model.JudgeStatusResponse{
		SubmissionID:  id,
		Status:        model.StatusRunning,
		TestsPassed:   1,
		CompileTimeMs: 40,
		Progress:      model.Progress{TotalTests: 2, DoneTests: 1},
	}); err != nil {
		t.Fatalf("save status: %v", err)
	}
	got, err := f.svc.GetSubmission(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusRunning || got.TestsPassed != 1 || got.CompileTimeMs != 40 {
		t.Fatalf("expected live status overlay, got %+v", got)
	}

	if _, err := f.svc.GetSubmission(ctx, "missing"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestGetStatusFallsBackToStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, service.RateLimitConfig{})
	ctx := context.Background()
	f.repo.rows["old"] = model.Submission{
		ID:          "old",
		Status:      model.StatusWrongAnswer,
		TestsPassed: 1,
		TotalTests:  3,
		FinishedAt:  time.UnixMilli(1700000000000),
	}
	status, err := f.svc.GetStatus(ctx, "old")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != model.StatusWrongAnswer || status.Progress.TotalTests != 3 || status.UpdatedAt != 1700000000000 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestHandleFinalStatusFansOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t, service.RateLimitConfig{})
	ctx := context.Background()
	event := model.StatusEvent{
		Type:   model.StatusEventFinal,
		UserID: "u1",
		Status: model.JudgeStatusResponse{SubmissionID: "s9", ContestID: "c1", Status: model.StatusAccepted},
	}
	if err := f.svc.HandleFinalStatus(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.handler.events) != 1 || f.handler.events[0].Status.ContestID != "c1" {
		t.Fatalf("expected handler called, got %+v", f.handler.events)
	}
	status, err := f.statusRepo.Get(ctx, "s9")
	if err != nil || status.Status != model.StatusAccepted {
		t.Fatalf("expected live status refreshed, got %+v (%v)", status, err)
	}
}
