// Package repository reads contests, their prizes and their finished submissions.
package repository

import (
	"context"
	"errors"
	"time"

	"arenajudge/internal/common/db"
	"arenajudge/internal/contest/ranking"
	"arenajudge/internal/judge/model"
)

var ErrContestNotFound = errors.New("contest not found")

// Contest is the window during which submissions count.
type Contest struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
}

// IsRunning reports whether at falls in [StartAt, EndAt).
func (c Contest) IsRunning(at time.Time) bool {
	return !at.Before(c.StartAt) && at.Before(c.EndAt)
}

// HasStarted reports whether the contest has opened at or before at.
func (c Contest) HasStarted(at time.Time) bool {
	return !at.Before(c.StartAt)
}

// ContestRepository defines contest reads.
type ContestRepository interface {
	GetContest(ctx context.Context, contestID string) (*Contest, error)
	ListPrizes(ctx context.Context, contestID string) ([]ranking.Prize, error)
	// ListAcceptedRecords returns every Accepted submission of the contest.
	ListAcceptedRecords(ctx context.Context, contestID string) ([]ranking.Record, error)
}

// MySQLContestRepository implements ContestRepository with MySQL.
type MySQLContestRepository struct {
	db db.Database
}

// NewContestRepository creates a contest repository.
func NewContestRepository(database db.Database) *MySQLContestRepository {
	return &MySQLContestRepository{db: database}
}

func (r *MySQLContestRepository) GetContest(ctx context.Context, contestID string) (*Contest, error) {
	query := `SELECT id, title, start_at, end_at FROM contests WHERE id = ?`
	var c Contest
	if err := r.db.QueryRow(ctx, query, contestID).Scan(&c.ID, &c.Title, &c.StartAt, &c.EndAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *MySQLContestRepository) ListPrizes(ctx context.Context, contestID string) ([]ranking.Prize, error) {
	query := "SELECT `rank`, amount_cents FROM contest_prizes WHERE contest_id = ? ORDER BY `rank`"
	rows, err := r.db.Query(ctx, query, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prizes []ranking.Prize
	for rows.Next() {
		var p ranking.Prize
		if err := rows.Scan(&p.Rank, &p.AmountCents); err != nil {
			return nil, err
		}
		prizes = append(prizes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return prizes, nil
}

// Users live in the account service; a missing user falls back to its ID as the name.
func (r *MySQLContestRepository) ListAcceptedRecords(ctx context.Context, contestID string) ([]ranking.Record, error) {
	query := `
		SELECT s.id, s.user_id, COALESCE(u.username, s.user_id), s.status,
			s.submission_time_ms, s.run_time_ms, s.compile_time_ms, s.created_at
		FROM submissions s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.contest_id = ? AND s.status = ?
	`
	rows, err := r.db.Query(ctx, query, contestID, string(model.StatusAccepted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ranking.Record
	for rows.Next() {
		var (
			rec    ranking.Record
			status string
		)
		if err := rows.Scan(
			&rec.SubmissionID,
			&rec.UserID,
			&rec.Username,
			&status,
			&rec.SubmissionTimeMs,
			&rec.RunTimeMs,
			&rec.CompileTimeMs,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Status = model.Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
