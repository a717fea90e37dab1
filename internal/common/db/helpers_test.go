package db_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"codelab/internal/common/db"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

func TestUniqueViolation(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		wantKey string
		wantOK  bool
	}{
		{
			name:    "mysql duplicate",
			err:     &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7-3' for key 'compilations.compilations_session_ordinal_uq'"},
			wantKey: "compilations.compilations_session_ordinal_uq",
			wantOK:  true,
		},
		{
			name:    "wrapped postgres duplicate",
			err:     fmt.Errorf("insert attempt: %w", &pq.Error{Code: "23505", Constraint: "compilations_session_ordinal_uq"}),
			wantKey: "compilations_session_ordinal_uq",
			wantOK:  true,
		},
		{name: "mysql other", err: &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}},
		{name: "postgres other", err: &pq.Error{Code: "42P01"}},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, ok := db.UniqueViolation(tc.err)
			if ok != tc.wantOK || key != tc.wantKey {
				t.Fatalf("UniqueViolation() = %q, %v; want %q, %v", key, ok, tc.wantKey, tc.wantOK)
			}
		})
	}
}

func TestIsNoRows(t *testing.T) {
	if !db.IsNoRows(fmt.Errorf("get session: %w", sql.ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows not detected")
	}
	if db.IsNoRows(errors.New("other")) {
		t.Fatalf("unexpected match")
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := db.Open(db.Config{Driver: "sqlite", DSN: "x"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := db.Open(db.Config{Driver: db.DriverPostgres}); err == nil {
		t.Fatalf("expected empty DSN error")
	}
}
