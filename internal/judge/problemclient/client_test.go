package problemclient_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arenajudge/internal/common/cache"
	"arenajudge/internal/judge/comparator"
	"arenajudge/internal/judge/model"
	"arenajudge/internal/judge/problemclient"
	"arenajudge/internal/judge/sandbox/spec"
	appErr "arenajudge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeStore struct {
	mu      sync.Mutex
	configs map[string]model.ProblemConfig
	err     error
	calls   int
}

func (f *fakeStore) LoadJudgeConfig(ctx context.Context, problemID string) (model.ProblemConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.ProblemConfig{}, f.err
	}
	return f.configs[problemID], nil
}

func newCache(t *testing.T) cache.Cache {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func sampleConfig() model.ProblemConfig {
	return model.ProblemConfig{
		ProblemID: "two-sum",
		Policy:    comparator.Policy{Mode: comparator.Relaxed, AbsTolerance: 1e-6},
		Limits:    spec.ResourceLimit{CPUTimeMs: 1000, WallTimeMs: 2000, MemoryBytes: 256 << 20, NoNetwork: true},
		TestCases: []model.TestCase{
			{ID: "t1", Ordinal: 1, Input: "1 1\n", ExpectedOutput: "2\n"},
			{ID: "t2", Ordinal: 2, Input: "2 3\n", ExpectedOutput: "5\n", Hidden: true},
		},
	}
}

func TestGetJudgeConfigCaches(t *testing.T) {
	t.Parallel()
	store := &fakeStore{configs: map[string]model.ProblemConfig{"two-sum": sampleConfig()}}
	client, err := problemclient.NewClient(problemclient.Config{Store: store, Cache: newCache(t), TTL: time.Minute})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		cfg, err := client.GetJudgeConfig(ctx, "two-sum")
		if err != nil {
			t.Fatalf("get config: %v", err)
		}
		if len(cfg.TestCases) != 2 || cfg.TestCases[1].ID != "t2" || !cfg.TestCases[1].Hidden {
			t.Fatalf("unexpected test cases %+v", cfg.TestCases)
		}
		if cfg.Policy.Mode != comparator.Relaxed || cfg.Limits.MemoryBytes != 256<<20 {
			t.Fatalf("unexpected config %+v", cfg)
		}
	}
	if store.calls != 1 {
		t.Fatalf("expected one store load, got %d", store.calls)
	}

	if err := client.Invalidate(ctx, "two-sum"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := client.GetJudgeConfig(ctx, "two-sum"); err != nil {
		t.Fatalf("get config: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("expected reload after invalidate, got %d loads", store.calls)
	}
}

func TestGetJudgeConfigErrors(t *testing.T) {
	t.Parallel()
	store := &fakeStore{configs: map[string]model.ProblemConfig{}}
	client, err := problemclient.NewClient(problemclient.Config{Store: store, Cache: newCache(t)})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	if _, err := client.GetJudgeConfig(ctx, "missing"); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected ProblemNotFound, got %v", err)
	}
	if _, err := client.GetJudgeConfig(ctx, "missing"); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected cached ProblemNotFound, got %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("expected absence cached, got %d loads", store.calls)
	}
	if _, err := client.GetJudgeConfig(ctx, ""); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}

	store.err = errors.New("connection refused")
	if _, err := client.GetJudgeConfig(ctx, "other"); !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
}

func TestGetJudgeConfigWithoutCache(t *testing.T) {
	t.Parallel()
	store := &fakeStore{configs: map[string]model.ProblemConfig{"two-sum": sampleConfig()}}
	client, err := problemclient.NewClient(problemclient.Config{Store: store})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := client.GetJudgeConfig(context.Background(), "two-sum"); err != nil {
			t.Fatalf("get config: %v", err)
		}
	}
	if store.calls != 2 {
		t.Fatalf("expected every call to reach the store, got %d", store.calls)
	}
}
