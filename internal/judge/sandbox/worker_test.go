package sandbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"arenajudge/internal/judge/comparator"
	"arenajudge/internal/judge/language"
	"arenajudge/internal/judge/model"
	"arenajudge/internal/judge/sandbox"
	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/spec"
	appErr "arenajudge/pkg/errors"
)

// scriptedEngine answers compile steps with compile and run steps from runs in order.
type scriptedEngine struct {
	mu      sync.Mutex
	compile result.RunResult
	runs    []result.RunResult
	runErr  error
	calls   []string
	onRun   func(runSpec spec.RunSpec)
}

func (e *scriptedEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, runSpec.Step)
	if runSpec.Step == "compile" {
		return e.compile, nil
	}
	if e.runErr != nil {
		return result.RunResult{}, e.runErr
	}
	if e.onRun != nil {
		e.onRun(runSpec)
	}
	if len(e.runs) == 0 {
		return result.RunResult{}, errors.New("unexpected run")
	}
	res := e.runs[0]
	e.runs = e.runs[1:]
	return res, nil
}

func (e *scriptedEngine) runCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, step := range e.calls {
		if step == "run" {
			n++
		}
	}
	return n
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []sandbox.StatusUpdate
}

func (r *recordingReporter) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return nil
}

func newWorker(t *testing.T, eng *scriptedEngine, workRoot string) *sandbox.Worker {
	t.Helper()
	registry, err := language.NewRegistry(eng, nil, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	worker, err := sandbox.NewWorker(sandbox.WorkerConfig{Languages: registry, WorkRoot: workRoot, MountBox: true})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return worker
}

func testCases(expected ...string) []model.TestCase {
	out := make([]model.TestCase, 0, len(expected))
	for i, exp := range expected {
		out = append(out, model.TestCase{ID: string(rune('a' + i)), Ordinal: i, ExpectedOutput: exp})
	}
	return out
}

func TestWorkerExecute(t *testing.T) {
	tests := []struct {
		name        string
		language    string
		source      string
		compile     result.RunResult
		runs        []result.RunResult
		cases       []model.TestCase
		policy      comparator.Policy
		wantStatus  model.Status
		wantPassed  int
		wantRuns    int
		wantRunTime int64
		wantCompile int64
		wantCompOut string
	}{
		{
			name:        "python print accepted",
			language:    language.Python,
			source:      "print(1+1)",
			compile:     result.RunResult{WallTimeMs: 20},
			runs:        []result.RunResult{{Stdout: "2\n", WallTimeMs: 30}},
			cases:       testCases("2"),
			wantStatus:  model.StatusAccepted,
			wantPassed:  1,
			wantRuns:    1,
			wantRunTime: 30,
			wantCompile: 20,
		},
		{
			name:        "trailing space accepted under strict",
			language:    language.JavaScript,
			source:      "process.stdout.write('2 ')",
			runs:        []result.RunResult{{Stdout: "2 ", WallTimeMs: 12}},
			cases:       testCases("2"),
			wantStatus:  model.StatusAccepted,
			wantPassed:  1,
			wantRuns:    1,
			wantRunTime: 12,
		},
		{
			name:     "cpp syntax error",
			language: language.Cpp,
			source:   "int main( {",
			compile: result.RunResult{
				ExitCode:   1,
				Stderr:     "main.cpp:1:11: error: expected ')' before '{' token",
				WallTimeMs: 410,
			},
			cases:       testCases("0", "1"),
			wantStatus:  model.StatusCompilationError,
			wantPassed:  0,
			wantRuns:    0,
			wantCompile: 410,
			wantCompOut: "expected ')'",
		},
		{
			name:        "infinite loop stops at first test",
			language:    language.Python,
			source:      "while True: pass",
			runs:        []result.RunResult{{TimedOut: true, ExitCode: -1, Signal: "killed", WallTimeMs: 2000}},
			cases:       testCases("1", "2", "3"),
			wantStatus:  model.StatusTimeLimitExceeded,
			wantPassed:  0,
			wantRuns:    1,
			wantRunTime: 2000,
		},
		{
			name:     "wrong answer after one pass",
			language: language.Java,
			source:   "public class Main {}",
			runs: []result.RunResult{
				{Stdout: "1\n", WallTimeMs: 100},
				{Stdout: "3\n", WallTimeMs: 201},
			},
			cases:       testCases("1", "2", "3"),
			wantStatus:  model.StatusWrongAnswer,
			wantPassed:  1,
			wantRuns:    2,
			wantRunTime: 151,
		},
		{
			name:        "runtime error",
			language:    language.Cpp,
			source:      "int main(){return 1;}",
			runs:        []result.RunResult{{Stdout: "1\n", WallTimeMs: 5}, {ExitCode: 139, Signal: "segmentation fault", WallTimeMs: 7}},
			cases:       testCases("1", "2"),
			wantStatus:  model.StatusRuntimeError,
			wantPassed:  1,
			wantRuns:    2,
			wantRunTime: 6,
		},
		{
			name:        "memory limit",
			language:    language.JavaScript,
			source:      "let a=[];for(;;)a.push(new Array(1e6))",
			runs:        []result.RunResult{{KilledForMemory: true, ExitCode: -1, Signal: "killed", WallTimeMs: 800}},
			cases:       testCases("x"),
			wantStatus:  model.StatusMemoryLimitExceeded,
			wantRuns:    1,
			wantRunTime: 800,
		},
		{
			name:        "truncated output is never accepted",
			language:    language.Python,
			source:      "print(2)\nwhile True: print(0)",
			runs:        []result.RunResult{{Stdout: "2", OutputBytes: 1 << 30, OutputTruncated: true, WallTimeMs: 900}},
			cases:       testCases("2"),
			wantStatus:  model.StatusWrongAnswer,
			wantRuns:    1,
			wantRunTime: 900,
		},
		{
			name:        "relaxed tolerance",
			language:    language.Python,
			source:      "print(0.3333334)",
			runs:        []result.RunResult{{Stdout: "0.3333334\n", WallTimeMs: 40}},
			cases:       testCases("0.333333"),
			policy:      comparator.Policy{Mode: comparator.Relaxed, AbsTolerance: 1e-5},
			wantStatus:  model.StatusAccepted,
			wantPassed:  1,
			wantRuns:    1,
			wantRunTime: 40,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng := &scriptedEngine{compile: tt.compile, runs: tt.runs}
			workRoot := t.TempDir()
			worker := newWorker(t, eng, workRoot)

			res, err := worker.Execute(context.Background(), sandbox.JudgeRequest{
				SubmissionID: "sub-" + tt.language,
				Language:     tt.language,
				Source:       tt.source,
				Config: model.ProblemConfig{
					ProblemID: "p1",
					Policy:    tt.policy,
					Limits:    spec.ResourceLimit{CPUTimeMs: 1000, WallTimeMs: 2000, MemoryBytes: 256 << 20},
					TestCases: tt.cases,
				},
				QueuedAt: time.Now(),
			})
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Fatalf("expected status %s, got %s", tt.wantStatus, res.Status)
			}
			if res.TestsPassed != tt.wantPassed {
				t.Fatalf("expected %d passed, got %d", tt.wantPassed, res.TestsPassed)
			}
			if res.TestsPassed > res.TotalTests || res.TotalTests != len(tt.cases) {
				t.Fatalf("unexpected counts %d/%d", res.TestsPassed, res.TotalTests)
			}
			if got := eng.runCalls(); got != tt.wantRuns {
				t.Fatalf("expected %d runs, got %d", tt.wantRuns, got)
			}
			if len(res.Tests) != tt.wantRuns {
				t.Fatalf("expected %d test results, got %d", tt.wantRuns, len(res.Tests))
			}
			if res.RunTimeMs != tt.wantRunTime {
				t.Fatalf("expected run time %d, got %d", tt.wantRunTime, res.RunTimeMs)
			}
			if res.CompileTimeMs != tt.wantCompile {
				t.Fatalf("expected compile time %d, got %d", tt.wantCompile, res.CompileTimeMs)
			}
			if !strings.Contains(res.CompileOutput, tt.wantCompOut) {
				t.Fatalf("expected compile output to contain %q, got %q", tt.wantCompOut, res.CompileOutput)
			}
			if tt.wantCompOut == "" && res.CompileOutput != "" {
				t.Fatalf("expected no compile output, got %q", res.CompileOutput)
			}
			if (res.Status == model.StatusAccepted) != (res.TestsPassed == res.TotalTests) {
				t.Fatalf("accepted must mean every test passed, got %s with %d/%d", res.Status, res.TestsPassed, res.TotalTests)
			}
			entries, err := os.ReadDir(workRoot)
			if err != nil {
				t.Fatalf("read work root: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("expected workspace removed, found %d entries", len(entries))
			}
		})
	}
}

func TestWorkerSubmissionTime(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{runs: []result.RunResult{{Stdout: "2\n"}}}
	worker := newWorker(t, eng, t.TempDir())
	res, err := worker.Execute(context.Background(), sandbox.JudgeRequest{
		SubmissionID: "sub-time",
		Language:     language.Python,
		Source:       "print(1+1)",
		Config:       model.ProblemConfig{TestCases: testCases("2")},
		QueuedAt:     time.Now().Add(-1500 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.SubmissionTimeMs < 1500 {
		t.Fatalf("expected submission time measured from intake, got %d", res.SubmissionTimeMs)
	}
}

func TestWorkerReportsProgress(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{runs: []result.RunResult{{Stdout: "1"}, {Stdout: "2"}}}
	worker := newWorker(t, eng, t.TempDir())
	reporter := &recordingReporter{}
	worker.SetStatusReporter(reporter)

	res, err := worker.Execute(context.Background(), sandbox.JudgeRequest{
		SubmissionID: "sub-progress",
		Language:     language.Python,
		Source:       "print(input())",
		Config:       model.ProblemConfig{TestCases: testCases("1", "2")},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusAccepted {
		t.Fatalf("expected Accepted, got %s", res.Status)
	}
	if len(reporter.updates) == 0 || reporter.updates[0].Status != model.StatusCompiling {
		t.Fatalf("expected first update to be Compiling, got %+v", reporter.updates)
	}
	last := reporter.updates[len(reporter.updates)-1]
	if last.DoneTests != 2 || last.TotalTests != 2 || last.TestsPassed != 2 {
		t.Fatalf("expected final progress 2/2, got %+v", last)
	}
	for i := 1; i < len(reporter.updates); i++ {
		if reporter.updates[i].DoneTests < reporter.updates[i-1].DoneTests {
			t.Fatalf("progress went backwards: %+v", reporter.updates)
		}
		if reporter.updates[i].Status.IsTerminal() {
			t.Fatalf("terminal status must not be reported as progress: %+v", reporter.updates[i])
		}
	}
}

func TestWorkerIsolatesTestRuns(t *testing.T) {
	t.Parallel()
	var (
		seen     []bool
		readOnly = true
	)
	eng := &scriptedEngine{runs: []result.RunResult{{Stdout: "1"}, {Stdout: "2"}}}
	eng.onRun = func(runSpec spec.RunSpec) {
		var workDir string
		for _, m := range runSpec.BindMounts {
			if m.Target == runSpec.WorkDir {
				workDir = m.Source
			} else if !m.ReadOnly {
				readOnly = false
			}
		}
		stash := filepath.Join(workDir, "stash")
		_, err := os.Stat(stash)
		seen = append(seen, err == nil)
		if err := os.WriteFile(stash, []byte("leak"), 0644); err != nil {
			t.Errorf("write stash: %v", err)
		}
	}
	workRoot := t.TempDir()
	worker := newWorker(t, eng, workRoot)
	res, err := worker.Execute(context.Background(), sandbox.JudgeRequest{
		SubmissionID: "sub-isolated",
		Language:     language.Python,
		Source:       "print(input())",
		Config:       model.ProblemConfig{TestCases: testCases("1", "2")},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusAccepted {
		t.Fatalf("expected Accepted, got %s", res.Status)
	}
	if len(seen) != 2 || seen[0] || seen[1] {
		t.Fatalf("expected files from one test hidden from the next, got %v", seen)
	}
	if !readOnly {
		t.Fatalf("expected only the run scratch to be writable")
	}
	entries, _ := os.ReadDir(workRoot)
	if len(entries) != 0 {
		t.Fatalf("expected run scratch removed, found %d entries", len(entries))
	}
}

func TestWorkerInfrastructureFailure(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{runErr: errors.New("start sandbox helper: permission denied")}
	workRoot := t.TempDir()
	worker := newWorker(t, eng, workRoot)
	_, err := worker.Execute(context.Background(), sandbox.JudgeRequest{
		SubmissionID: "sub-infra",
		Language:     language.Cpp,
		Source:       "int main(){}",
		Config:       model.ProblemConfig{TestCases: testCases("0")},
	})
	if !appErr.Is(err, appErr.JudgeSystemError) {
		t.Fatalf("expected JudgeSystemError, got %v", err)
	}
	entries, _ := os.ReadDir(workRoot)
	if len(entries) != 0 {
		t.Fatalf("expected workspace removed after failure")
	}
}

func TestWorkerRejectsInvalidRequest(t *testing.T) {
	t.Parallel()
	worker := newWorker(t, &scriptedEngine{}, t.TempDir())
	tests := []struct {
		name string
		req  sandbox.JudgeRequest
		code appErr.ErrorCode
	}{
		{
			name: "unsupported language",
			req:  sandbox.JudgeRequest{SubmissionID: "s", Language: "ruby", Config: model.ProblemConfig{TestCases: testCases("1")}},
			code: appErr.LanguageNotSupported,
		},
		{
			name: "no test cases",
			req:  sandbox.JudgeRequest{SubmissionID: "s", Language: language.Python},
			code: appErr.TestCaseNotFound,
		},
		{
			name: "missing submission id",
			req:  sandbox.JudgeRequest{Language: language.Python, Config: model.ProblemConfig{TestCases: testCases("1")}},
			code: appErr.ValidationFailed,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := worker.Execute(context.Background(), tt.req)
			if !appErr.Is(err, tt.code) {
				t.Fatalf("expected code %d, got %v", tt.code, err)
			}
		})
	}
}
