package snapshot

import (
	"errors"
	"fmt"
)

// ErrSuperseded is returned when a load or save completes after a newer
// operation has started. Its result was discarded.
var ErrSuperseded = errors.New("superseded by a newer operation")

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeFetchFailed indicates the fetch function returned an error.
	ErrCodeFetchFailed ErrorCode = "FETCH_FAILED"

	// ErrCodeSaveFailed indicates the save function returned an error.
	ErrCodeSaveFailed ErrorCode = "SAVE_FAILED"

	// ErrCodeReloadFailed indicates the save succeeded but the refetch of
	// the original copy did not.
	ErrCodeReloadFailed ErrorCode = "RELOAD_FAILED"

	// ErrCodeNoSaveFunc indicates Save was called on a read-only store.
	ErrCodeNoSaveFunc ErrorCode = "NO_SAVE_FUNC"

	// ErrCodeRowNotFound indicates an index outside the data table.
	ErrCodeRowNotFound ErrorCode = "ROW_NOT_FOUND"

	// ErrCodeInvalidRow indicates a record that cannot become a row.
	ErrCodeInvalidRow ErrorCode = "INVALID_ROW"

	// ErrCodeClosed indicates the store was closed.
	ErrCodeClosed ErrorCode = "STORE_CLOSED"
)

// Error is a store failure with a machine-readable code.
type Error struct {
	// Op is the store operation that failed ("load", "save", ...).
	Op string

	Code    ErrorCode
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a store Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsSuperseded reports whether err means the operation's result was
// discarded because a newer operation started.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}

func rowNotFound(op string, index, n int) *Error {
	return &Error{
		Op:      op,
		Code:    ErrCodeRowNotFound,
		Message: fmt.Sprintf("row index %d out of range [0,%d)", index, n),
	}
}
