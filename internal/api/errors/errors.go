package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/yourusername/candlecore/internal/collector"
	"github.com/yourusername/candlecore/internal/exchange"
	"github.com/yourusername/candlecore/internal/gapfill"
	"github.com/yourusername/candlecore/internal/store"
)

// ErrorCode represents a specific error type
type ErrorCode string

const (
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"

	// Candle collection errors, covering the taxonomy §7 of the core spec
	// names for the chunked fetch/gap-fill pipeline.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrCodeFutureTime     ErrorCode = "FUTURE_TIME"
	ErrCodeTransientFetch ErrorCode = "TRANSIENT_FETCH"
	ErrCodeStorage        ErrorCode = "STORAGE_ERROR"
	ErrCodeGapFill        ErrorCode = "GAP_FILL_ERROR"
	ErrCodeCancelled      ErrorCode = "CANCELLED"
)

// APIError represents a structured API error
type APIError struct {
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewAPIError creates a new API error
func NewAPIError(code ErrorCode, message string, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// InternalError creates a 500 Internal Server Error
func InternalError(message string) *APIError {
	return NewAPIError(ErrCodeInternal, message, fiber.StatusInternalServerError)
}

// InvalidRequest creates a 400 error for a malformed get_candles request:
// parameters outside the four accepted (count, to, end) combinations.
func InvalidRequest(message string) *APIError {
	return NewAPIError(ErrCodeInvalidRequest, message, fiber.StatusBadRequest)
}

// FutureTime creates a 400 error for a requested boundary after now_aligned(tf).
func FutureTime(message string) *APIError {
	return NewAPIError(ErrCodeFutureTime, message, fiber.StatusBadRequest)
}

// TransientFetchError creates a 502 error for an exchange fetch that
// exhausted its retries.
func TransientFetchError(message string) *APIError {
	return NewAPIError(ErrCodeTransientFetch, message, fiber.StatusBadGateway)
}

// StorageErrorOf creates a 500 error for a fatal CandleRepository failure.
func StorageErrorOf(message string) *APIError {
	return NewAPIError(ErrCodeStorage, message, fiber.StatusInternalServerError)
}

// GapFillErrorOf creates a 500 error for a gap-fill invariant violation —
// a programmer-visible bug, not recoverable input.
func GapFillErrorOf(message string) *APIError {
	return NewAPIError(ErrCodeGapFill, message, fiber.StatusInternalServerError)
}

// CancelledError creates a 499-style error (reported as 400) for a
// collection cancelled between chunks.
func CancelledError(message string) *APIError {
	return NewAPIError(ErrCodeCancelled, message, fiber.StatusBadRequest)
}

// FromCollectorError classifies an error surfaced by the collector package
// into the matching APIError, falling back to a generic internal error.
func FromCollectorError(err error) *APIError {
	switch {
	case stderrors.Is(err, collector.ErrInvalidRequest):
		return InvalidRequest(err.Error())
	case stderrors.Is(err, collector.ErrFutureTime):
		return FutureTime(err.Error())
	case stderrors.Is(err, collector.ErrCancelled):
		return CancelledError(err.Error())
	case stderrors.Is(err, store.ErrStorage):
		return StorageErrorOf(err.Error())
	case stderrors.Is(err, gapfill.ErrGapFill):
		return GapFillErrorOf(err.Error())
	case stderrors.Is(err, exchange.ErrTransientFetch), stderrors.Is(err, exchange.ErrRateExhausted):
		return TransientFetchError(err.Error())
	default:
		return InternalError(err.Error())
	}
}

// SendError sends an error response to the client
func SendError(c *fiber.Ctx, err *APIError) error {
	return c.Status(err.StatusCode).JSON(ErrorResponse{
		Success: false,
		Error:   err,
	})
}
