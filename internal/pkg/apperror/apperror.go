package apperror

import "net/http"

// Stable error kinds shared across modules. Modules may define their own.
const (
	KindValidation   = "VALIDATION_FAILED"
	KindNotFound     = "NOT_FOUND"
	KindForbidden    = "FORBIDDEN"
	KindUnauthorized = "UNAUTHORIZED"
	KindConflict     = "CONFLICT"
	KindUnavailable  = "LEDGER_UNAVAILABLE"
	KindInternal     = "INTERNAL"
)

// AppError is a custom error type that includes an HTTP status code and a stable error kind.
type AppError struct {
	Code    int    // HTTP Status Code (e.g., 400, 404)
	Kind    string // Stable machine-readable kind (e.g., RANGE_UNAVAILABLE)
	Message string // User-facing error message
	Err     error  // The underlying error, if any (not exposed to user)
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError of the same kind, so callers can compare against
// sentinels even when the message was specialised with WithMessage.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithMessage returns a copy carrying a more specific reason.
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{Code: e.Code, Kind: e.Kind, Message: message, Err: e.Err}
}

// New creates a new AppError with a status code, kind and message.
func New(code int, kind, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// Wrap creates a new AppError wrapping an existing error.
func Wrap(err error, code int, kind, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validation is a shorthand for a 400 VALIDATION_FAILED error.
func Validation(message string) *AppError {
	return New(http.StatusBadRequest, KindValidation, message)
}
