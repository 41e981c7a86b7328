package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"nil", nil, UnknownErrorType, false},
		{"connection refused", errors.New("dial tcp 10.0.0.1:22: connection refused"), ConnectionErrorType, true},
		{"dial timeout", errors.New("dial tcp 10.0.0.1:22: i/o timeout"), ConnectionErrorType, true},
		{"no route", errors.New("connect: no route to host"), ConnectionErrorType, true},
		{"auth failed", errors.New("ssh: unable to authenticate, attempted methods [none password]"), AuthenticationErrorType, false},
		{"no methods remain", errors.New("ssh: handshake failed: ssh: unable to authenticate"), AuthenticationErrorType, false},
		{"missing file", errors.New("open targets.csv: no such file or directory"), SetupErrorType, false},
		{"malformed input", errors.New("malformed host spec"), SetupErrorType, false},
		{"unknown", errors.New("something odd happened"), UnknownErrorType, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := ClassifyError(tt.err)
			if tt.err == nil {
				assert.Nil(t, ce)
				return
			}
			require.NotNil(t, ce)
			assert.Equal(t, tt.wantType, ce.Type)
			assert.Equal(t, tt.retryable, ce.IsRetryable())
		})
	}
}

func TestClassifyErrorPassesThroughClassified(t *testing.T) {
	orig := NewStopTimeoutError("worker missed join window")
	assert.Same(t, orig, ClassifyError(orig))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset by peer")
	ce := NewConnectionError("stream read failed", inner)

	assert.Equal(t, "stream read failed", ce.Error())
	assert.ErrorIs(t, ce, inner)

	wrapped := fmt.Errorf("probe 10.0.0.1: %w", ce)
	var target *ClassifiedError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, ConnectionErrorType, target.Type)
}

func TestErrorCollector(t *testing.T) {
	ec := NewErrorCollector()
	assert.False(t, ec.HasErrors())
	assert.Equal(t, "no errors", ec.Summary())

	ec.Add(nil)
	ec.Add(errors.New("connection refused"))
	ec.Add(errors.New("connection reset"))
	ec.Add(errors.New("authentication failed for root"))

	assert.Equal(t, 3, ec.Count())
	assert.Equal(t, 2, ec.CountByType(ConnectionErrorType))
	assert.Equal(t, 1, ec.CountByType(AuthenticationErrorType))
	assert.True(t, ec.HasErrors())
	assert.Contains(t, ec.Summary(), "total: 3 errors")
}
