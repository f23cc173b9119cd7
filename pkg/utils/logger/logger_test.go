package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"arenajudge/pkg/utils/contextkey"

	"go.uber.org/zap"
)

func TestLoggerWritesContextFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init(Config{Level: "debug", Format: "json", OutputPath: path}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	t.Cleanup(func() { globalLogger = nil })

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.SubmissionID, "sub-1")
	Info(ctx, "verdict recorded", zap.String("status", "Accepted"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"trace_id":"trace-1"`, `"submission_id":"sub-1"`, `"status":"Accepted"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %s", want, line)
		}
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestHelpersWithoutInit(t *testing.T) {
	globalLogger = nil
	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("expected nil sync error, got %v", err)
	}
}
