package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Domain validation (LEDGER) ----

func ErrAmountInvalid() *AppError {
	return New("LEDGER_001", "Amount must be positive", http.StatusBadRequest)
}

func ErrBalanceIsEmpty() *AppError {
	return New("LEDGER_002", "Balance is empty", http.StatusBadRequest)
}

func ErrInsufficientFunds() *AppError {
	return New("LEDGER_003", "Insufficient funds", http.StatusPaymentRequired)
}

func ErrModelNotFound(entity string) *AppError {
	return New("LEDGER_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Consistency (CONSISTENCY) ----

func ErrWalletInconsistency(uuid string) *AppError {
	return New("CONSISTENCY_001", fmt.Sprintf("Wallet %s consistency could not be verified", uuid), http.StatusConflict)
}

// ---- Math (MATH) ----

func ErrNumberFormat(value string) *AppError {
	return New("MATH_001", fmt.Sprintf("Invalid decimal number: %q", value), http.StatusBadRequest)
}

// ---- Locking & transactions (SYS) ----

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_001", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrTransactionFailed(err error) *AppError {
	return Wrap("SYS_002", "Transaction failed", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_003 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_003", "Internal error", http.StatusInternalServerError, err)
}

// RecordNotFoundError signals cache keys absent from the state storage tier.
// It is recoverable: the Bookkeeper rebuilds the missing entries and the
// error never escapes to end callers.
type RecordNotFoundError struct {
	*AppError
	MissingKeys []string
}

// ErrRecordNotFound creates a RecordNotFoundError enumerating exactly the
// keys absent from the storage tier.
func ErrRecordNotFound(missingKeys []string) *RecordNotFoundError {
	return &RecordNotFoundError{
		AppError:    New("CACHE_001", "Record not found in state storage", http.StatusNotFound),
		MissingKeys: missingKeys,
	}
}

func (e *RecordNotFoundError) Unwrap() error {
	return e.AppError
}

// MissingKeys extracts the missing key set from a RecordNotFoundError chain.
func MissingKeys(err error) ([]string, bool) {
	var rnf *RecordNotFoundError
	if errors.As(err, &rnf) {
		return rnf.MissingKeys, true
	}
	return nil, false
}

// IsAppError reports whether err is (or wraps) an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
