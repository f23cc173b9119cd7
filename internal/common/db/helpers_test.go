package db_test

import (
	"database/sql"
	"fmt"
	"testing"

	"arenajudge/internal/common/db"

	"github.com/go-sql-driver/mysql"
)

func TestUniqueViolation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     error
		wantKey string
		wantOK  bool
	}{
		{
			name:    "duplicate entry",
			err:     &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'abc' for key 'submissions.uk_idempotency'"},
			wantKey: "uk_idempotency",
			wantOK:  true,
		},
		{
			name:    "wrapped duplicate entry",
			err:     fmt.Errorf("exec failed: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key `PRIMARY`"}),
			wantKey: "PRIMARY",
			wantOK:  true,
		},
		{
			name: "other mysql error",
			err:  &mysql.MySQLError{Number: 1146, Message: "Table 'judge.t' doesn't exist"},
		},
		{
			name: "plain error",
			err:  sql.ErrConnDone,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, ok := db.UniqueViolation(tt.err)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Fatalf("expected (%q, %v), got (%q, %v)", tt.wantKey, tt.wantOK, key, ok)
			}
		})
	}
}

func TestIsNoRows(t *testing.T) {
	t.Parallel()
	if !db.IsNoRows(fmt.Errorf("scan: %w", sql.ErrNoRows)) {
		t.Fatalf("expected wrapped ErrNoRows to match")
	}
	if db.IsNoRows(sql.ErrTxDone) {
		t.Fatalf("expected ErrTxDone not to match")
	}
}
