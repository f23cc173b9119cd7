//go:build linux

package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"arenajudge/internal/judge/sandbox/spec"
)

// helperPath returns a built sandbox-init binary or skips the test.
func helperPath(t *testing.T) string {
	t.Helper()
	path := os.Getenv("SANDBOX_INIT_PATH")
	if path == "" {
		t.Skip("SANDBOX_INIT_PATH not set")
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("sandbox-init not available: %v", err)
	}
	return path
}

func TestRunKillsAfterWallDeadline(t *testing.T) {
	helper := helperPath(t)
	eng, err := NewEngine(Config{HelperPath: helper}, staticResolver{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	workDir := t.TempDir()
	start := time.Now()
	res, err := eng.Run(t.Context(), spec.RunSpec{
		SubmissionID: "sub-loop",
		Step:         "test-1",
		WorkDir:      workDir,
		Cmd:          []string{"/bin/sh", "-c", "while :; do :; done"},
		Profile:      "run",
		Limits:       spec.ResourceLimit{WallTimeMs: 300, NoNetwork: true},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("expected kill near deadline, took %s", elapsed)
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	helper := helperPath(t)
	eng, err := NewEngine(Config{HelperPath: helper}, staticResolver{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	workDir := t.TempDir()
	res, err := eng.Run(t.Context(), spec.RunSpec{
		SubmissionID: "sub-echo",
		Step:         "test-1",
		WorkDir:      workDir,
		Cmd:          []string{"/bin/sh", "-c", "echo hello; echo oops >&2; exit 3"},
		StdoutPath:   filepath.Join(workDir, "stdout.txt"),
		StderrPath:   filepath.Join(workDir, "stderr.txt"),
		Profile:      "run",
		Limits:       spec.ResourceLimit{WallTimeMs: 5000},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "hello\n" || res.Stderr != "oops\n" {
		t.Fatalf("unexpected output: %q / %q", res.Stdout, res.Stderr)
	}
	if res.ExitCode != 3 || res.TimedOut {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunReportsSetupFailure(t *testing.T) {
	helper := helperPath(t)
	eng, err := NewEngine(Config{HelperPath: helper}, staticResolver{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = eng.Run(t.Context(), spec.RunSpec{
		SubmissionID: "sub-missing",
		Step:         "test-1",
		WorkDir:      filepath.Join(t.TempDir(), "does-not-exist"),
		Cmd:          []string{"/bin/true"},
		Profile:      "run",
	})
	if err == nil {
		t.Fatalf("expected setup failure to surface as error")
	}
}
