package txn

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind sorts remote failures into the buckets callers dispatch on: retry,
// surface, or fail fast. Nobody should ever string-match error messages.
type Kind string

const (
	KindUnknown      Kind = "unknown"
	KindUnique       Kind = "unique_violation"
	KindForeignKey   Kind = "foreign_key_violation"
	KindCheck        Kind = "check_violation"
	KindLockConflict Kind = "lock_conflict"
	KindTransient    Kind = "transient"
	KindPermission   Kind = "permission_denied"
	KindNotFound     Kind = "not_found"
)

var (
	// ErrLockConflict marks a stale-version conditional write. Never
	// auto-retried; the caller must re-read and decide.
	ErrLockConflict = errors.New("optimistic lock conflict")

	// ErrPermissionDenied covers the 401/403/406 class from the identity
	// dependency. Never retried; cached session state must be cleared.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnavailable is returned by an open circuit breaker without any
	// network attempt.
	ErrUnavailable = errors.New("dependency unavailable")

	// ErrNotFound marks a genuinely absent row. Store sentinels wrap it so
	// callers can tell proven absence apart from a failed read; only the
	// former may be treated as an expired or missing record.
	ErrNotFound = errors.New("record not found")
)

// ConstraintError carries the violated constraint name alongside the kind.
type ConstraintError struct {
	Kind       Kind
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint %s violated (%s): %v", e.Constraint, e.Kind, e.Err)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, ErrLockConflict) {
		return KindLockConflict
	}
	if errors.Is(err, ErrPermissionDenied) {
		return KindPermission
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}

	var constraintErr *ConstraintError
	if errors.As(err, &constraintErr) {
		return constraintErr.Kind
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPg(pgErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindUnknown
}

func classifyPg(pgErr *pgconn.PgError) Kind {
	switch pgErr.Code {
	case "23505":
		return KindUnique
	case "23503":
		return KindForeignKey
	case "23514":
		return KindCheck
	case "57P01", "57P02", "57P03", "40001", "40P01":
		return KindTransient
	case "28000", "28P01", "42501":
		return KindPermission
	}
	if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
		return KindTransient
	}
	return KindUnknown
}

// Retryable reports whether the retry layer may attempt the operation again.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}

// WrapConstraint converts a pg constraint violation into a typed error
// carrying the constraint name; other errors pass through unchanged.
func WrapConstraint(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	kind := classifyPg(pgErr)
	switch kind {
	case KindUnique, KindForeignKey, KindCheck:
		return &ConstraintError{Kind: kind, Constraint: pgErr.ConstraintName, Err: err}
	}
	return err
}
