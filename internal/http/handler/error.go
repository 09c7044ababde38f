package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"scrubapi/internal/http/middleware"
	"scrubapi/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// validationStatus maps upload validation codes onto HTTP statuses.
var validationStatus = map[string]int{
	service.CodeFileRequired:    fiber.StatusBadRequest,
	service.CodeSizeMismatch:    fiber.StatusBadRequest,
	service.CodeTypeNotAllowed:  fiber.StatusUnsupportedMediaType,
	service.CodeSizeExceeded:    fiber.StatusRequestEntityTooLarge,
	service.CodeMalwareDetected: fiber.StatusUnprocessableEntity,
}

// writeServiceError translates service errors. Validation messages are safe to
// echo; everything else is reported generically.
func writeServiceError(c *fiber.Ctx, err error) error {
	if ve, ok := service.AsValidation(err); ok {
		status, known := validationStatus[ve.Code]
		if !known {
			status = fiber.StatusBadRequest
		}
		return writeError(c, status, ve.Code, ve.Message)
	}
	switch {
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "file not found")
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "id is required")
	case errors.Is(err, service.ErrPersistence):
		return writeError(c, fiber.StatusInternalServerError, "PERSISTENCE_FAILURE", "file could not be stored")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusUnauthorized:
			return writeError(c, status, "UNAUTHORIZED", "authentication required")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, service.CodeSizeExceeded, "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
