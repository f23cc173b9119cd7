package repository_test

import (
	"testing"
	"time"

	"arenajudge/internal/contest/repository"
)

func TestContestWindow(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := repository.Contest{ID: "c1", StartAt: start, EndAt: start.Add(2 * time.Hour)}
	tests := []struct {
		name    string
		at      time.Time
		running bool
		started bool
	}{
		{name: "before start", at: start.Add(-time.Second), running: false, started: false},
		{name: "at start", at: start, running: true, started: true},
		{name: "mid contest", at: start.Add(time.Hour), running: true, started: true},
		{name: "at end", at: start.Add(2 * time.Hour), running: false, started: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.IsRunning(tt.at); got != tt.running {
				t.Fatalf("expected running %v, got %v", tt.running, got)
			}
			if got := c.HasStarted(tt.at); got != tt.started {
				t.Fatalf("expected started %v, got %v", tt.started, got)
			}
		})
	}
}
