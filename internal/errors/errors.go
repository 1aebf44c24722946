package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies a category of application error.
type ErrorCode string

const (
	// Generic
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"

	// Configuration
	ErrCodeConfigInvalid   ErrorCode = "CONFIG_INVALID"
	ErrCodeSchemaViolation ErrorCode = "SCHEMA_VIOLATION"

	// Database
	ErrCodeDBConnection  ErrorCode = "DB_CONNECTION_ERROR"
	ErrCodeDBQuery       ErrorCode = "DB_QUERY_ERROR"
	ErrCodeDBTransaction ErrorCode = "DB_TRANSACTION_ERROR"

	// Upstream services
	ErrCodeBrokerAPI       ErrorCode = "BROKER_API_ERROR"
	ErrCodeMarketData      ErrorCode = "MARKET_DATA_ERROR"
	ErrCodeBacktestTimeout ErrorCode = "BACKTEST_TIMEOUT"

	// Execution
	ErrCodeMarketClosed     ErrorCode = "MARKET_CLOSED"
	ErrCodeRiskHalt         ErrorCode = "RISK_HALT"
	ErrCodeInsufficientData ErrorCode = "INSUFFICIENT_DATA"
	ErrCodeDeploymentBusy   ErrorCode = "DEPLOYMENT_BUSY"
)

// ErrorSeverity ranks how urgently an error needs operator attention.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError is the error type surfaced by all quantlab subsystems.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to an HTTP status for API responses.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput, ErrCodeConfigInvalid, ErrCodeSchemaViolation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeDeploymentBusy:
		return http.StatusConflict
	case ErrCodeTimeout, ErrCodeBacktestTimeout:
		return http.StatusRequestTimeout
	case ErrCodeMarketClosed, ErrCodeRiskHalt:
		return http.StatusUnprocessableEntity
	case ErrCodeBrokerAPI, ErrCodeMarketData:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithContext attaches a key/value pair for structured diagnosis.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  severityFor(code),
		Timestamp: time.Now(),
	}
}

// Newf creates an AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError wrapping a cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	e := New(code, message)
	e.Cause = err
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AsAppError extracts an AppError from err, wrapping unknown errors as internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, ErrCodeInternal, "internal error")
}

func severityFor(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeRiskHalt, ErrCodeDBConnection:
		return SeverityCritical
	case ErrCodeBrokerAPI, ErrCodeDBQuery, ErrCodeDBTransaction, ErrCodeBacktestTimeout:
		return SeverityHigh
	case ErrCodeMarketData, ErrCodeConfigInvalid, ErrCodeSchemaViolation, ErrCodeConflict:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
