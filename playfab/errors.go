package playfab

import (
	"fmt"
	"net/http"
	"strings"

	crerr "github.com/cockroachdb/errors"
)

var (
	// ErrTitleIDRequired is returned before any network I/O when no title
	// id has been configured.
	ErrTitleIDRequired = crerr.New("playfab: title id is not configured")

	// ErrSecretKeyRequired is returned before any network I/O when a
	// server-authenticated call is attempted without a developer secret key.
	ErrSecretKeyRequired = crerr.New("playfab: developer secret key is not configured")

	// ErrNotAuthenticated is returned when a call needs a session ticket or
	// entity token and neither has been obtained yet.
	ErrNotAuthenticated = crerr.New("playfab: not authenticated")

	// ErrServiceUnavailable wraps circuit-breaker rejections.
	ErrServiceUnavailable = crerr.New("playfab: service is temporarily unavailable")
)

var errTransient = crerr.New("playfab transient failure")

// Error is the decoded vendor error envelope. Every non-2xx response from
// the backend carries one.
type Error struct {
	HTTPCode     int                 `json:"code"`
	Status       string              `json:"status"`
	ErrorName    string              `json:"error"`
	ErrorCode    int                 `json:"errorCode"`
	ErrorMessage string              `json:"errorMessage"`
	ErrorDetails map[string][]string `json:"errorDetails,omitempty"`
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "playfab: %s (%d)", e.ErrorName, e.ErrorCode)
	if e.ErrorMessage != "" {
		b.WriteString(": ")
		b.WriteString(e.ErrorMessage)
	}
	if len(e.ErrorDetails) > 0 {
		fmt.Fprintf(&b, " details=%v", e.ErrorDetails)
	}
	return b.String()
}

// Retryable reports whether the failure is worth retrying. Mirrors the
// vendor guidance: throttling and server-side failures may clear, request
// validation failures never do.
func (e *Error) Retryable() bool {
	return isRetryableStatus(e.HTTPCode)
}

// AsError unwraps err to the vendor error envelope when one is present.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if crerr.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsTransient reports whether err was classified as a transient transport
// or service failure. Transient errors feed the circuit breaker.
func IsTransient(err error) bool {
	return err != nil && crerr.Is(err, errTransient)
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= http.StatusInternalServerError
}
