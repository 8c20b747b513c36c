package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound             = errors.New("resource not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrBadRequest           = errors.New("bad request")
	ErrConflict             = errors.New("resource conflict")
	ErrInternal             = errors.New("internal server error")
	ErrValidation           = errors.New("validation error")
	ErrNegativeQuantity     = errors.New("negative quantity")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrConcurrencyConflict  = errors.New("concurrency conflict")
	ErrReservationNotActive = errors.New("reservation not active")
	ErrPoolInactive         = errors.New("pool inactive")
)

// Error codes returned to API clients.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeConflict             = "CONFLICT"
	CodeInternal             = "INTERNAL_ERROR"
	CodeValidation           = "VALIDATION_ERROR"
	CodeNegativeQuantity     = "NEGATIVE_QUANTITY"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeConcurrencyConflict  = "CONCURRENCY_CONFLICT"
	CodeReservationNotActive = "RESERVATION_NOT_ACTIVE"
	CodePoolInactive         = "POOL_INACTIVE"
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       CodeBadRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       CodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       CodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       CodeValidation,
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// InvalidField is a single-field validation failure.
func InvalidField(field, reason string) *AppError {
	return Validation(map[string]string{field: reason})
}

// NegativeQuantity is returned when an adjustment would drop on-hand below what is reserved.
func NegativeQuantity(onHand, reserved, delta int64) *AppError {
	return &AppError{
		Err:        ErrNegativeQuantity,
		Code:       CodeNegativeQuantity,
		Message:    fmt.Sprintf("adjustment of %d would leave %d on hand with %d reserved", delta, onHand+delta, reserved),
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func InsufficientStock(requested, available int64) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       CodeInsufficientStock,
		Message:    fmt.Sprintf("requested %d, only %d available", requested, available),
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func ConcurrencyConflict(err error) *AppError {
	return &AppError{
		Err:        errors.Join(ErrConcurrencyConflict, err),
		Code:       CodeConcurrencyConflict,
		Message:    "concurrent update, retry the operation",
		StatusCode: http.StatusConflict,
	}
}

func ReservationNotActive(id, status string) *AppError {
	return &AppError{
		Err:        ErrReservationNotActive,
		Code:       CodeReservationNotActive,
		Message:    fmt.Sprintf("reservation %s is %s", id, status),
		StatusCode: http.StatusConflict,
	}
}

func PoolInactive(id string) *AppError {
	return &AppError{
		Err:        ErrPoolInactive,
		Code:       CodePoolInactive,
		Message:    fmt.Sprintf("pool %s is inactive", id),
		StatusCode: http.StatusConflict,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}

// CodeOf returns the AppError code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
