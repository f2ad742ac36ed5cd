package playfab

import (
	"net/http"
	"testing"

	crerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := &Error{
		HTTPCode:     400,
		Status:       "BadRequest",
		ErrorName:    "InvalidParams",
		ErrorCode:    1000,
		ErrorMessage: "Invalid input parameters",
		ErrorDetails: map[string][]string{"Entity": {"must be set"}},
	}

	msg := err.Error()
	assert.Contains(t, msg, "InvalidParams")
	assert.Contains(t, msg, "1000")
	assert.Contains(t, msg, "Invalid input parameters")
	assert.Contains(t, msg, "must be set")
}

func TestErrorRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		httpCode  int
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
		{"request timeout", http.StatusRequestTimeout, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"internal error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"service unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := &Error{HTTPCode: tc.httpCode}
			assert.Equal(t, tc.retryable, err.Retryable())
		})
	}
}

func TestAsError(t *testing.T) {
	t.Parallel()

	apiErr := &Error{ErrorName: "InvalidParams", ErrorCode: 1000}
	wrapped := crerr.Wrap(crerr.Wrap(apiErr, "outer"), "outermost")

	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "InvalidParams", got.ErrorName)

	_, ok = AsError(crerr.New("plain failure"))
	assert.False(t, ok)
	_, ok = AsError(nil)
	assert.False(t, ok)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	transient := crerr.Mark(crerr.Wrap(&Error{HTTPCode: 503}, "retryable api failure"), errTransient)
	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(crerr.New("permanent")))
	assert.False(t, IsTransient(nil))
}
