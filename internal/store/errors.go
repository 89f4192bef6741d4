package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error taxonomy surfaced by the store. Handlers map these to HTTP codes,
// the lifecycle controller maps them to guard failures.
var (
	// ErrNotFound means the session, user or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the operation is not legal in the current lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation means a required field is missing or empty.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable means the database could not be reached; retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// classify maps a pgx error to the store taxonomy. Server-side SQL errors pass
// through wrapped; anything that never reached the server counts as a
// connectivity failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
