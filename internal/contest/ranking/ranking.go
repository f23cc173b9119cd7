// Package ranking turns finished contest submissions into a leaderboard.
//
// Every function here is pure: the same records always give the same rows, so a
// leaderboard can be recomputed at any time for audits and disputes.
package ranking

import (
	"sort"
	"time"

	"arenajudge/internal/judge/model"
)

// TopTenCutoff is the last rank flagged as TopTen.
const TopTenCutoff = 10

// Record is the timing of one terminal contest submission.
type Record struct {
	SubmissionID     string
	UserID           string
	Username         string
	Status           model.Status
	SubmissionTimeMs int64
	RunTimeMs        int64
	CompileTimeMs    int64
	CreatedAt        time.Time
}

// Sum is the composite score before division. Comparing sums keeps ties exact.
func (r Record) Sum() int64 {
	return r.SubmissionTimeMs + r.RunTimeMs + r.CompileTimeMs
}

// Row is one leaderboard line. Lower Average ranks higher.
type Row struct {
	UserID           string  `json:"userId"`
	Username         string  `json:"username"`
	SubmissionID     string  `json:"submissionId"`
	SubmissionTimeMs int64   `json:"submissionTimeMs"`
	RunTimeMs        int64   `json:"runTimeMs"`
	CompileTimeMs    int64   `json:"compileTimeMs"`
	Average          float64 `json:"average"`
	Rank             int     `json:"rank"`
	TopTen           bool    `json:"topTen"`
}

// SelectBest keeps the best Accepted record of each user: lowest sum, then
// earliest CreatedAt, then smallest submission ID. Other statuses are ignored.
// The result is ordered by user ID.
func SelectBest(records []Record) []Record {
	best := make(map[string]Record)
	for _, rec := range records {
		if rec.Status != model.StatusAccepted || rec.UserID == "" {
			continue
		}
		cur, ok := best[rec.UserID]
		if !ok || better(rec, cur) {
			best[rec.UserID] = rec
		}
	}
	out := make([]Record, 0, len(best))
	for _, rec := range best {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Rank builds the leaderboard with standard competition ranking (1, 1, 3).
// Rows with equal sums share a rank and are ordered by earliest submission,
// then user ID.
func Rank(records []Record) []Row {
	selected := SelectBest(records)
	sort.SliceStable(selected, func(i, j int) bool {
		return better(selected[i], selected[j])
	})

	rows := make([]Row, len(selected))
	for i, rec := range selected {
		rank := i + 1
		if i > 0 && rec.Sum() == selected[i-1].Sum() {
			rank = rows[i-1].Rank
		}
		rows[i] = Row{
			UserID:           rec.UserID,
			Username:         rec.Username,
			SubmissionID:     rec.SubmissionID,
			SubmissionTimeMs: rec.SubmissionTimeMs,
			RunTimeMs:        rec.RunTimeMs,
			CompileTimeMs:    rec.CompileTimeMs,
			Average:          float64(rec.Sum()) / 3,
			Rank:             rank,
			TopTen:           rank <= TopTenCutoff,
		}
	}
	return rows
}

// better orders records by sum, CreatedAt, submission ID, then user ID.
func better(a, b Record) bool {
	if sa, sb := a.Sum(), b.Sum(); sa != sb {
		return sa < sb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.SubmissionID != b.SubmissionID {
		return a.SubmissionID < b.SubmissionID
	}
	return a.UserID < b.UserID
}
