// Package ledger is the relational store of record: personas, response
// history and the match ledger, on PostgreSQL via pgx.
package ledger

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	apperrors "matchmaker/backend/pkg/errors"
	"matchmaker/backend/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

const pairConstraint = "matches_pair_unique"

// DBTX is the subset of *pgxpool.Pool the store uses
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the persona, response and match ledger boundaries
type Store struct {
	db     DBTX
	logger *zap.Logger
}

// New creates a store over an open pool
func New(db DBTX) *Store {
	return &Store{
		db:     db,
		logger: logger.Component("ledger"),
	}
}

// Connect opens a pgx pool and pings it
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, apperrors.NewLedgerUnavailable("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.NewLedgerUnavailable("ping", err)
	}
	return pool, nil
}

// EnsureSchema applies the idempotent table and index definitions
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return apperrors.NewLedgerUnavailable("ensure_schema", err)
	}
	s.logger.Info("Ledger schema ensured")
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation,
// optionally on a specific constraint or index
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return false
		}
		return constraint == "" || strings.EqualFold(pgErr.ConstraintName, constraint)
	}

	// Fallback: string match (covers wrapped errors that lose type info)
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "sqlstate 23505") {
		return constraint == "" || strings.Contains(msg, strings.ToLower(constraint))
	}
	return false
}

func unavailable(op string, err error) error {
	return apperrors.NewLedgerUnavailable(op, err)
}
