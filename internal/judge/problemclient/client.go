// Package problemclient reads the judge view of problems owned by the problem service.
package problemclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arenajudge/internal/common/cache"
	"arenajudge/internal/judge/model"
	appErr "arenajudge/pkg/errors"
)

const configKeyPrefix = "judge:problem:"

// Reader returns the judge configuration of a problem.
type Reader interface {
	GetJudgeConfig(ctx context.Context, problemID string) (model.ProblemConfig, error)
}

// ConfigStore loads problem configuration from the system of record.
// It returns a zero ProblemConfig when the problem does not exist.
type ConfigStore interface {
	LoadJudgeConfig(ctx context.Context, problemID string) (model.ProblemConfig, error)
}

// Client reads problem configuration through a Redis cache.
type Client struct {
	store    ConfigStore
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
	timeout  time.Duration
}

// Config holds client dependencies.
type Config struct {
	Store ConfigStore
	// Cache is optional; without it every call reaches the store.
	Cache    cache.Cache
	TTL      time.Duration
	EmptyTTL time.Duration
	Timeout  time.Duration
}

// NewClient creates a new client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.EmptyTTL <= 0 {
		cfg.EmptyTTL = 30 * time.Second
	}
	return &Client{store: cfg.Store, cache: cfg.Cache, ttl: cfg.TTL, emptyTTL: cfg.EmptyTTL, timeout: cfg.Timeout}, nil
}

// GetJudgeConfig returns the config of problemID with test cases in declared order.
func (c *Client) GetJudgeConfig(ctx context.Context, problemID string) (model.ProblemConfig, error) {
	if problemID == "" {
		return model.ProblemConfig{}, appErr.ValidationError("problem_id", "required")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var (
		cfg model.ProblemConfig
		err error
	)
	if c.cache == nil {
		cfg, err = c.store.LoadJudgeConfig(ctx, problemID)
	} else {
		cfg, err = cache.GetWithCached(ctx, c.cache, configKeyPrefix+problemID, c.ttl, c.emptyTTL,
			func(cfg model.ProblemConfig) bool { return cfg.ProblemID == "" },
			func(cfg model.ProblemConfig) (string, error) {
				data, err := json.Marshal(cfg)
				return string(data), err
			},
			func(raw string) (model.ProblemConfig, error) {
				var cfg model.ProblemConfig
				err := json.Unmarshal([]byte(raw), &cfg)
				return cfg, err
			},
			func(ctx context.Context) (model.ProblemConfig, error) {
				return c.store.LoadJudgeConfig(ctx, problemID)
			})
	}
	if err != nil {
		return model.ProblemConfig{}, appErr.Wrapf(err, appErr.DatabaseError, "load problem config failed")
	}
	if cfg.ProblemID == "" {
		return model.ProblemConfig{}, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", problemID)
	}
	return cfg, nil
}

// Invalidate drops the cached config of problemID.
func (c *Client) Invalidate(ctx context.Context, problemID string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Del(ctx, configKeyPrefix+problemID)
}
