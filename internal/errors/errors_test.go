package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndWrap(t *testing.T) {
	err := New(ErrCodeMarketClosed, "market is closed")
	assert.Equal(t, ErrCodeMarketClosed, err.Code)
	assert.Contains(t, err.Error(), "MARKET_CLOSED")
	assert.Contains(t, err.Error(), "market is closed")

	cause := fmt.Errorf("connection refused")
	wrapped := Wrap(cause, ErrCodeBrokerAPI, "failed to place order")
	require.NotNil(t, wrapped.Cause)
	assert.Equal(t, cause, wrapped.Unwrap())
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestIs(t *testing.T) {
	err := New(ErrCodeRiskHalt, "daily loss limit breached")
	assert.True(t, Is(err, ErrCodeRiskHalt))
	assert.False(t, Is(err, ErrCodeNotFound))
	assert.False(t, Is(fmt.Errorf("plain"), ErrCodeRiskHalt))

	// Wrapped chains still match.
	outer := fmt.Errorf("tick failed: %w", err)
	assert.True(t, Is(outer, ErrCodeRiskHalt))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeSchemaViolation, http.StatusBadRequest},
		{ErrCodeMarketClosed, http.StatusUnprocessableEntity},
		{ErrCodeBrokerAPI, http.StatusBadGateway},
		{ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus(), string(tt.code))
	}
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, New(ErrCodeRiskHalt, "x").Severity)
	assert.Equal(t, SeverityHigh, New(ErrCodeBrokerAPI, "x").Severity)
	assert.Equal(t, SeverityLow, New(ErrCodeInsufficientData, "x").Severity)
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeRiskHalt, "halted").
		WithContext("equity", 9200.0).
		WithContext("starting_equity", 10000.0)
	assert.Equal(t, 9200.0, err.Context["equity"])
	assert.Equal(t, 10000.0, err.Context["starting_equity"])
}
