// Package sqlite opens the single-node store on SQLite. It shares every query
// with the postgres store through sqlstore; only placeholders, locking and
// error classification differ.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"pdv/backend/internal/store/sqlstore"
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

// New opens path (":memory:" for a throwaway database) and migrates it.
// Writers take the database lock at BEGIN, and busyTimeout bounds how long
// they wait for it.
func New(ctx context.Context, path string, busyTimeout time.Duration) (*sqlstore.Store, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return sqlstore.New(db, Dialect()), nil
}

func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:            "sqlite",
		Rebind:          rebind,
		UniqueViolation: uniqueViolation,
		CheckViolation:  checkViolation,
		IsTransient:     isTransient,
	}
}

// rebind turns $N into ?N, which SQLite binds by position and lets a query
// reuse.
func rebind(query string) string {
	return placeholder.ReplaceAllString(query, "?$1")
}

func uniqueViolation(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return "", false
	}
	msg := sqliteErr.Error()
	switch {
	case strings.Contains(msg, "sales.code"):
		return "sales_code_key", true
	case strings.Contains(msg, "products.sku"):
		return "products_sku_key", true
	}
	return msg, true
}

func checkViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck
}

func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
