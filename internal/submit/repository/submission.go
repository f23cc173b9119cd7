// Package repository persists submissions.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"arenajudge/internal/common/cache"
	"arenajudge/internal/common/db"
	"arenajudge/internal/judge/model"
)

const (
	defaultSubmissionCacheTTL = 30 * time.Minute
	submissionCacheKeyPrefix  = "submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrSubmissionExists   = errors.New("submission already exists")
)

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error)
	// Finalize writes a terminal verdict unless the row is already terminal.
	Finalize(ctx context.Context, submissionID string, verdict model.Verdict) (bool, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
// Terminal rows are cached in Redis since they never change.
type MySQLSubmissionRepository struct {
	db    db.Database
	cache cache.Cache
	ttl   time.Duration
}

// NewSubmissionRepository creates a submission repository. cacheClient may be nil.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache, ttl time.Duration) *MySQLSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	return &MySQLSubmissionRepository{db: database, cache: cacheClient, ttl: ttl}
}

const submissionColumns = `id, problem_id, user_id, contest_id, language, source_key, source_hash, status,
tests_passed, total_tests, compile_time_ms, run_time_ms, submission_time_ms, compile_output, error_message,
created_at, finished_at`

// Create inserts a submission record in Queued state.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID == "" {
		return errors.New("submission id is required")
	}
	if submission.ProblemID == "" {
		return errors.New("problem id is required")
	}
	if submission.UserID == "" {
		return errors.New("user id is required")
	}
	if submission.SourceKey == "" {
		return errors.New("source key is required")
	}

	query := `
		INSERT INTO submissions
		(id, problem_id, user_id, contest_id, language, source_key, source_hash, status, total_tests, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.ID,
		submission.ProblemID,
		submission.UserID,
		nullString(submission.ContestID),
		submission.Language,
		submission.SourceKey,
		submission.SourceHash,
		string(submission.Status),
		submission.TotalTests,
		submission.CreatedAt.UTC(),
	)
	if _, dup := db.UniqueViolation(err); dup {
		return ErrSubmissionExists
	}
	return err
}

// GetByID retrieves a submission by id. SourceCode is not loaded.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submission id is required")
	}
	if r.cache != nil && tx == nil {
		if raw, err := r.cache.Get(ctx, submissionCacheKey(submissionID)); err == nil && raw != "" {
			var cached cachedSubmission
			if json.Unmarshal([]byte(raw), &cached) == nil {
				submission := cached.Submission
				submission.SourceKey = cached.SourceKey
				submission.SourceHash = cached.SourceHash
				return &submission, nil
			}
		}
	}

	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ? LIMIT 1"
	submission, err := scanSubmission(db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if r.cache != nil && tx == nil && submission.Status.IsTerminal() {
		r.setCache(ctx, submission)
	}
	return submission, nil
}

// Finalize writes verdict when the row is still in a non-terminal state.
func (r *MySQLSubmissionRepository) Finalize(ctx context.Context, submissionID string, verdict model.Verdict) (bool, error) {
	if submissionID == "" {
		return false, errors.New("submission id is required")
	}
	if !verdict.Status.IsTerminal() {
		return false, errors.New("verdict status must be terminal")
	}
	finishedAt := verdict.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}
	query := `
		UPDATE submissions
		SET status = ?, tests_passed = ?, total_tests = ?, compile_time_ms = ?, run_time_ms = ?,
			submission_time_ms = ?, compile_output = ?, error_message = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?, ?, ?)
	`
	res, err := r.db.Exec(
		ctx,
		query,
		string(verdict.Status),
		verdict.TestsPassed,
		verdict.TotalTests,
		verdict.CompileTimeMs,
		verdict.RunTimeMs,
		verdict.SubmissionTimeMs,
		verdict.CompileOutput,
		verdict.ErrorMessage,
		finishedAt.UTC(),
		submissionID,
		string(model.StatusQueued),
		string(model.StatusCompiling),
		string(model.StatusRunning),
		string(model.StatusJudging),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 && r.cache != nil {
		_ = r.cache.Del(ctx, submissionCacheKey(submissionID))
	}
	return affected > 0, nil
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	var (
		s             model.Submission
		contestID     sql.NullString
		status        string
		compileOutput sql.NullString
		errorMessage  sql.NullString
		finishedAt    sql.NullTime
	)
	if err := row.Scan(
		&s.ID,
		&s.ProblemID,
		&s.UserID,
		&contestID,
		&s.Language,
		&s.SourceKey,
		&s.SourceHash,
		&status,
		&s.TestsPassed,
		&s.TotalTests,
		&s.CompileTimeMs,
		&s.RunTimeMs,
		&s.SubmissionTimeMs,
		&compileOutput,
		&errorMessage,
		&s.CreatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	s.ContestID = contestID.String
	s.Status = model.Status(status)
	s.CompileOutput = compileOutput.String
	s.ErrorMessage = errorMessage.String
	if finishedAt.Valid {
		s.FinishedAt = finishedAt.Time
	}
	return &s, nil
}

func (r *MySQLSubmissionRepository) setCache(ctx context.Context, submission *model.Submission) {
	data, err := json.Marshal(cachedSubmission{
		Submission: *submission,
		SourceKey:  submission.SourceKey,
		SourceHash: submission.SourceHash,
	})
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, submissionCacheKey(submission.ID), string(data), cache.JitterTTL(r.ttl))
}

// cachedSubmission keeps the storage fields that the API encoding hides.
type cachedSubmission struct {
	model.Submission
	SourceKey  string `json:"sourceKey"`
	SourceHash string `json:"sourceHash"`
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
