package service

import (
	"errors"
	"fmt"
)

// Validation codes returned to callers.
const (
	CodeFileRequired     = "FILE_REQUIRED"
	CodeTypeNotAllowed   = "TYPE_NOT_ALLOWED"
	CodeSizeExceeded     = "SIZE_EXCEEDED"
	CodeSizeMismatch     = "SIZE_MISMATCH"
	CodeMalwareDetected  = "MALWARE_DETECTED"
	codeScanFailed       = "SCAN_FAILED"
	codeStoreUnreachable = "STORE_UNREACHABLE"
	codeStoreRejected    = "STORE_REJECTED"
)

var (
	ErrIDRequired = errors.New("id is required")
	ErrNotFound   = errors.New("file not found")
	// ErrPersistence means the artifact or its record could not be stored
	// durably. It is the only failure of an accepted upload.
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError rejects an upload before any processing happens.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsValidation reports whether err carries a ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
