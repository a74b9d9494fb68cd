package crmdb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// DB exposes the internal *sql.DB for test helpers in crmdb_test.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetClock replaces timeNow and returns a func that restores it.
func SetClock(f func() time.Time) func() {
	prev := timeNow
	timeNow = f
	return func() { timeNow = prev }
}

// ErrInjected is returned by writes failed with FailExecContaining.
var ErrInjected = errors.New("injected exec failure")

// FailExecContaining makes every write whose SQL contains substr fail.
func (s *Store) FailExecContaining(substr string) {
	s.hooks.exec = func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
		if strings.Contains(query, substr) {
			return nil, ErrInjected
		}
		return db.ExecContext(ctx, query, args...)
	}
}
