// Package postgres opens the production store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pdv/backend/internal/store/sqlstore"
)

// New connects, applies the schema and returns a ready store. lockTimeout
// bounds how long a unit of work waits on a row lock before failing as
// transient.
func New(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return sqlstore.New(db, Dialect(lockTimeout)), nil
}

// Dialect runs units of work at READ COMMITTED. Row locks taken in id order
// plus the guarded on-hand update keep stock correct, and concurrent sales
// of one product queue on the lock instead of failing serialization.
func Dialect(lockTimeout time.Duration) sqlstore.Dialect {
	begin := []string{}
	if lockTimeout > 0 {
		begin = append(begin, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds()))
	}
	return sqlstore.Dialect{
		Name:            "postgres",
		LockSuffix:      " FOR UPDATE",
		TxOptions:       &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		BeginStatements: begin,
		UniqueViolation: uniqueViolation,
		CheckViolation:  checkViolation,
		IsTransient:     isTransient,
	}
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func checkViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014": // query_canceled
			return true
		}
		return false
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}
