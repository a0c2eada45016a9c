package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel facts returned (optionally wrapped) by every store implementation.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClubFull is returned when a club has no remaining capacity.
	ErrClubFull = errors.New("club is at capacity")

	// ErrAlreadyMember is returned when the user is already in the member set.
	ErrAlreadyMember = errors.New("user is already a member of this club")

	// ErrNotMember is returned when removing a user that is not a member.
	ErrNotMember = errors.New("user is not a member of this club")

	// ErrStoreUnavailable marks transient infrastructure failures that are
	// safe to retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// storeErr wraps err with op, tagging connectivity failures as ErrStoreUnavailable.
func storeErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 53: insufficient resources, 57P: operator intervention.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "57P")
	}
	return false
}

// pgErrorCode returns the SQLSTATE carried by err, if any.
func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const (
	sqlStateForeignKeyViolation = "23503"
	sqlStateInvalidText         = "22P02"
)

// likePattern turns a user-supplied substring into an ILIKE pattern.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
