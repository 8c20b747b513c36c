package database

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"

	"github.com/stockline/stockline-backend/pkg/errors"
)

const (
	codeSerializationFailure      = "40001"
	codeDeadlockDetected          = "40P01"
	codeInvalidTextRepresentation = "22P02"
)

// IsRetryable reports whether err is a postgres serialization failure or deadlock.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

// IsInvalidInput reports whether postgres rejected a value that does not
// parse as its column type, such as a malformed UUID.
func IsInvalidInput(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == codeInvalidTextRepresentation
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return errors.ConcurrencyConflict(err)

	// Invalid text representation, e.g. a malformed UUID
	case codeInvalidTextRepresentation:
		return errors.BadRequest("malformed identifier or value")

	// Check constraint violation
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps CHECK constraint names from schema.sql to client messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "reserved_within_on_hand"):
		return errors.Validation(map[string]string{
			"quantity": "reserved quantity cannot exceed quantity on hand",
		})

	case strings.Contains(constraint, "on_hand_non_negative"), strings.Contains(constraint, "reserved_non_negative"):
		return errors.Validation(map[string]string{
			"quantity": "must not be negative",
		})

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "unknown status",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "stock_records_key"):
		return "a stock record for this product, variant and location already exists"
	case strings.Contains(constraint, "locations_pkey"):
		return "a location with this id already exists"
	case strings.Contains(constraint, "pool_members"):
		return "location is already a member of this pool"
	default:
		return "a record with these values already exists"
	}
}
