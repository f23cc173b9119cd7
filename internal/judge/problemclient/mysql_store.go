package problemclient

import (
	"context"

	"arenajudge/internal/common/db"
	"arenajudge/internal/judge/comparator"
	"arenajudge/internal/judge/model"
	"arenajudge/internal/judge/sandbox/spec"
	appErr "arenajudge/pkg/errors"
)

const (
	selectProblemSQL = `SELECT id, compare_mode, abs_tolerance, rel_tolerance, time_limit_ms, memory_limit_mb
FROM problems WHERE id = ?`
	selectTestCasesSQL = `SELECT id, ordinal, input, expected_output, is_hidden
FROM test_cases WHERE problem_id = ? ORDER BY ordinal, id`
)

// MySQLConfigStore reads problems and test cases from the shared MySQL schema.
type MySQLConfigStore struct {
	db db.Database
}

func NewMySQLConfigStore(database db.Database) *MySQLConfigStore {
	return &MySQLConfigStore{db: database}
}

func (s *MySQLConfigStore) LoadJudgeConfig(ctx context.Context, problemID string) (model.ProblemConfig, error) {
	var (
		cfg           model.ProblemConfig
		mode          string
		timeLimitMs   int64
		memoryLimitMB int64
	)
	err := s.db.QueryRow(ctx, selectProblemSQL, problemID).Scan(
		&cfg.ProblemID, &mode, &cfg.Policy.AbsTolerance, &cfg.Policy.RelTolerance, &timeLimitMs, &memoryLimitMB)
	if err != nil {
		if db.IsNoRows(err) {
			return model.ProblemConfig{}, nil
		}
		return model.ProblemConfig{}, err
	}
	parsed, err := comparator.ParseMode(mode)
	if err != nil {
		return model.ProblemConfig{}, appErr.Wrapf(err, appErr.InvalidParams, "problem %s has invalid compare mode", problemID)
	}
	cfg.Policy.Mode = parsed
	cfg.Limits = problemLimits(timeLimitMs, memoryLimitMB)

	rows, err := s.db.Query(ctx, selectTestCasesSQL, problemID)
	if err != nil {
		return model.ProblemConfig{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.Ordinal, &tc.Input, &tc.ExpectedOutput, &tc.Hidden); err != nil {
			return model.ProblemConfig{}, err
		}
		cfg.TestCases = append(cfg.TestCases, tc)
	}
	if err := rows.Err(); err != nil {
		return model.ProblemConfig{}, err
	}
	return cfg, nil
}

// problemLimits maps the stored time limit to CPU time, with a wall budget of twice that.
func problemLimits(timeLimitMs, memoryLimitMB int64) spec.ResourceLimit {
	limits := spec.ResourceLimit{NoNetwork: true}
	if timeLimitMs > 0 {
		limits.CPUTimeMs = timeLimitMs
		limits.WallTimeMs = timeLimitMs * 2
	}
	if memoryLimitMB > 0 {
		limits.MemoryBytes = memoryLimitMB << 20
	}
	return limits
}
