// Package service serves contest leaderboards and prize splits.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"arenajudge/internal/common/cache"
	"arenajudge/internal/contest/ranking"
	"arenajudge/internal/contest/repository"
	"arenajudge/internal/judge/model"
	appErr "arenajudge/pkg/errors"
	"arenajudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	contestKeyPrefix = "contest:info:"
	rankingKeyPrefix = "contest:ranking:"

	defaultCacheTTL    = 30 * time.Second
	defaultEmptyTTL    = 10 * time.Second
	defaultMaxPageSize = 100
)

// Config holds contest service dependencies.
type Config struct {
	Repo repository.ContestRepository
	// Cache is optional; without it every call reaches the repository.
	Cache       cache.Cache
	CacheTTL    time.Duration
	MaxPageSize int
	DBTimeout   time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// ContestService computes leaderboards from finished submissions.
type ContestService struct {
	repo        repository.ContestRepository
	cache       cache.Cache
	cacheTTL    time.Duration
	maxPageSize int
	dbTimeout   time.Duration
	now         func() time.Time
}

// NewContestService creates a contest service.
func NewContestService(cfg Config) (*ContestService, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = defaultMaxPageSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ContestService{
		repo:        cfg.Repo,
		cache:       cfg.Cache,
		cacheTTL:    cfg.CacheTTL,
		maxPageSize: cfg.MaxPageSize,
		dbTimeout:   cfg.DBTimeout,
		now:         cfg.Now,
	}, nil
}

// GetContest returns one contest.
func (s *ContestService) GetContest(ctx context.Context, contestID string) (repository.Contest, error) {
	if contestID == "" {
		return repository.Contest{}, appErr.ValidationError("contest_id", "required")
	}
	contest, err := cachedOrLoad(ctx, s, contestKeyPrefix+contestID, s.cacheTTL,
		func(c repository.Contest) bool { return c.ID == "" },
		func(ctx context.Context) (repository.Contest, error) {
			c, err := s.repo.GetContest(ctx, contestID)
			if errors.Is(err, repository.ErrContestNotFound) {
				return repository.Contest{}, nil
			}
			if err != nil {
				return repository.Contest{}, err
			}
			return *c, nil
		})
	if err != nil {
		return repository.Contest{}, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	if contest.ID == "" {
		return repository.Contest{}, appErr.Newf(appErr.ContestNotFound, "contest %s not found", contestID)
	}
	return contest, nil
}

// CheckOpen rejects submissions to a contest outside its running window.
func (s *ContestService) CheckOpen(ctx context.Context, contestID string, at time.Time) error {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return err
	}
	if !contest.IsRunning(at) {
		return appErr.Newf(appErr.ContestNotRunning, "contest %s is not running", contestID)
	}
	return nil
}

// GetContestResults returns one page of the leaderboard. search filters by
// username after ranking, so rows keep their overall rank.
func (s *ContestService) GetContestResults(ctx context.Context, contestID string, page, limit int, search string) (ranking.Page, error) {
	if page < 1 {
		return ranking.Page{}, appErr.ValidationError("page", "must be at least 1")
	}
	if limit < 1 || limit > s.maxPageSize {
		return ranking.Page{}, appErr.ValidationError("limit", fmt.Sprintf("must be between 1 and %d", s.maxPageSize))
	}
	rows, err := s.leaderboard(ctx, contestID)
	if err != nil {
		return ranking.Page{}, err
	}
	return ranking.Paginate(rows, page, limit, search), nil
}

// GetContestPrizes splits the contest prizes over the current leaderboard.
func (s *ContestService) GetContestPrizes(ctx context.Context, contestID string) ([]ranking.Award, error) {
	rows, err := s.leaderboard(ctx, contestID)
	if err != nil {
		return nil, err
	}
	ctxDB, cancel := s.withDBTimeout(ctx)
	prizes, err := s.repo.ListPrizes(ctxDB, contestID)
	cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contest prizes failed")
	}
	return ranking.SplitPrizes(rows, prizes), nil
}

// HandleFinalStatus drops the cached leaderboard of the event's contest.
func (s *ContestService) HandleFinalStatus(ctx context.Context, event model.StatusEvent) error {
	contestID := event.Status.ContestID
	if contestID == "" || event.Status.Status != model.StatusAccepted {
		return nil
	}
	return s.Invalidate(ctx, contestID)
}

// Invalidate drops the cached leaderboard of contestID.
func (s *ContestService) Invalidate(ctx context.Context, contestID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Del(ctx, rankingKeyPrefix+contestID); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "invalidate ranking failed")
	}
	logger.Debug(ctx, "ranking invalidated", zap.String("contest_id", contestID))
	return nil
}

func (s *ContestService) leaderboard(ctx context.Context, contestID string) ([]ranking.Row, error) {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if !contest.HasStarted(s.now()) {
		return nil, appErr.Newf(appErr.RankingNotAvailable, "contest %s has not started", contestID)
	}
	rows, err := cachedOrLoad(ctx, s, rankingKeyPrefix+contestID, s.cacheTTL,
		func([]ranking.Row) bool { return false },
		func(ctx context.Context) ([]ranking.Row, error) {
			records, err := s.repo.ListAcceptedRecords(ctx, contestID)
			if err != nil {
				return nil, err
			}
			return ranking.Rank(records), nil
		})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load contest results failed")
	}
	return rows, nil
}

func (s *ContestService) withDBTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.dbTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.dbTimeout)
}

// cachedOrLoad reads key as JSON through the cache, calling load on a miss.
func cachedOrLoad[T any](ctx context.Context, s *ContestService, key string, ttl time.Duration,
	isEmpty func(T) bool, load func(context.Context) (T, error)) (T, error) {
	load = withTimeout(load, s.dbTimeout)
	if s.cache == nil {
		return load(ctx)
	}
	return cache.GetWithCached(ctx, s.cache, key, ttl, defaultEmptyTTL, isEmpty,
		func(v T) (string, error) {
			data, err := json.Marshal(v)
			return string(data), err
		},
		func(raw string) (T, error) {
			var v T
			err := json.Unmarshal([]byte(raw), &v)
			return v, err
		},
		load)
}

func withTimeout[T any](load func(context.Context) (T, error), timeout time.Duration) func(context.Context) (T, error) {
	if timeout <= 0 {
		return load
	}
	return func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return load(ctx)
	}
}
