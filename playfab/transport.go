package playfab

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/riskibarqy/playfab-go/internal/platform/logging"
	"github.com/riskibarqy/playfab-go/internal/platform/resilience"
)

const maxResponseBytes = 1 << 20

// AuthKind selects which credential header a call carries.
type AuthKind int

const (
	// AuthNone is used by anonymous calls such as login.
	AuthNone AuthKind = iota
	// AuthSessionTicket authenticates client calls with the ticket issued
	// at login (X-Authorization).
	AuthSessionTicket
	// AuthEntityToken authenticates entity calls (X-EntityToken).
	AuthEntityToken
	// AuthSecretKey authenticates server calls with the developer secret
	// key from settings (X-SecretKey).
	AuthSecretKey
)

// Auth is a resolved credential for a single call. The secret key variant
// carries no value; the transport reads it from settings at call time so a
// key installed mid-sequence is picked up.
type Auth struct {
	Kind  AuthKind
	Value string
}

// AuthSource yields the strongest credential its owner currently holds.
type AuthSource interface {
	CallAuth() Auth
}

// Doer abstracts the HTTP client so net/http and fasthttp back ends are
// interchangeable. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type TransportConfig struct {
	Settings       Settings
	HTTPClient     Doer
	Timeout        time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	Tracing        bool
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Transport is the shared wire layer: it encodes requests, applies the
// per-call credential header, retries retryable failures and decodes the
// vendor envelope.
type Transport struct {
	doer           Doer
	box            settingsBox
	maxRetries     int
	retryBackoff   time.Duration
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
}

func NewTransport(cfg TransportConfig) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	doer := cfg.HTTPClient
	if doer == nil {
		httpClient := &http.Client{Timeout: timeout}
		if cfg.Tracing {
			httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
		}
		doer = httpClient
	}

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Transport{
		doer:           doer,
		box:            settingsBox{settings: cfg.Settings},
		maxRetries:     maxInt(cfg.MaxRetries, 0),
		retryBackoff:   backoff,
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

func (t *Transport) TitleID() string {
	return strings.TrimSpace(t.box.load().TitleID)
}

// SetDeveloperSecretKey installs (or clears) the secret key used by
// server-authenticated calls.
func (t *Transport) SetDeveloperSecretKey(key string) {
	t.box.setSecretKey(key)
}

func (t *Transport) HasSecretKey() bool {
	return strings.TrimSpace(t.box.load().DeveloperSecretKey) != ""
}

// Post sends a JSON request to the given service path ("/Client/LoginWithCustomID")
// and decodes the envelope's data into out when out is non-nil.
func (t *Transport) Post(ctx context.Context, path string, request any, auth Auth, out any) error {
	settings := t.box.load()
	endpoint, err := settings.endpoint()
	if err != nil {
		return err
	}

	headerName, headerValue, err := resolveAuthHeader(auth, settings)
	if err != nil {
		return err
	}

	if request == nil {
		request = map[string]any{}
	}
	body, err := sonic.Marshal(request)
	if err != nil {
		return crerr.Wrap(err, "marshal request body")
	}

	// Marshal happens before Allow so an encode failure never consumes a
	// half-open probe slot.
	if t.circuitEnabled {
		if allowErr := t.breaker.Allow(); allowErr != nil {
			t.logger.WarnContext(ctx, "playfab circuit breaker rejected request",
				"path", path,
				"state", t.breaker.State(),
			)
			return crerr.Wrapf(ErrServiceUnavailable, "path=%s", path)
		}
	}

	fullURL := endpoint + path
	t.logger.DebugContext(ctx, "playfab request",
		"path", path,
		"curl_preview", buildCurlPreview(fullURL, headerName, body),
	)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("playfab.path", path),
			attribute.String("playfab.title_id", strings.TrimSpace(settings.TitleID)),
		)
	}

	raw, callErr := t.executeRequest(ctx, fullURL, headerName, headerValue, body, settings)
	t.recordCircuitResult(callErr)
	if callErr != nil {
		return callErr
	}

	var envelope responseEnvelope
	if err := sonic.Unmarshal(raw, &envelope); err != nil {
		return crerr.Wrap(err, "decode response envelope")
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(envelope.Data, out); err != nil {
		return crerr.Wrapf(err, "decode response data path=%s", path)
	}

	return nil
}

func (t *Transport) executeRequest(ctx context.Context, fullURL, headerName, headerValue string, body []byte, settings Settings) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
		if err != nil {
			return nil, crerr.Wrap(err, "build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-PlayFabSDK", SDKVersionString())
		if headerName != "" {
			req.Header.Set(headerName, headerValue)
		}

		resp, err := t.doer.Do(req)
		if err != nil {
			lastErr = crerr.Wrapf(errTransient, "send request: %s", sanitizeSensitiveText(err.Error(), settings))
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			_ = resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = crerr.Wrapf(errTransient, "read response body: %v", readErr)
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return raw, nil
			default:
				apiErr := decodeAPIError(resp.StatusCode, raw)
				if !apiErr.Retryable() {
					return nil, apiErr
				}
				// Keep the decoded envelope reachable via AsError while
				// still marking the failure transient for the breaker.
				lastErr = crerr.Mark(crerr.Wrap(apiErr, "retryable api failure"), errTransient)
			}
		}

		if attempt == t.maxRetries {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * t.retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = crerr.New("request failed")
	}
	t.logger.WarnContext(ctx, "playfab request failed",
		"url", fullURL,
		"error", lastErr,
	)
	return nil, lastErr
}

func (t *Transport) recordCircuitResult(err error) {
	if !t.circuitEnabled || t.breaker == nil {
		return
	}
	if IsTransient(err) {
		t.breaker.RecordFailure()
		return
	}
	t.breaker.RecordSuccess()
}

func resolveAuthHeader(auth Auth, settings Settings) (string, string, error) {
	switch auth.Kind {
	case AuthNone:
		return "", "", nil
	case AuthSessionTicket:
		if strings.TrimSpace(auth.Value) == "" {
			return "", "", crerr.Wrap(ErrNotAuthenticated, "session ticket is empty")
		}
		return "X-Authorization", auth.Value, nil
	case AuthEntityToken:
		if strings.TrimSpace(auth.Value) == "" {
			return "", "", crerr.Wrap(ErrNotAuthenticated, "entity token is empty")
		}
		return "X-EntityToken", auth.Value, nil
	case AuthSecretKey:
		key := strings.TrimSpace(settings.DeveloperSecretKey)
		if key == "" {
			return "", "", ErrSecretKeyRequired
		}
		return "X-SecretKey", key, nil
	default:
		return "", "", crerr.Newf("unknown auth kind %d", auth.Kind)
	}
}

type responseEnvelope struct {
	Code   int             `json:"code"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decodeAPIError(statusCode int, raw []byte) *Error {
	apiErr := &Error{}
	if err := sonic.Unmarshal(raw, apiErr); err != nil || apiErr.ErrorName == "" {
		apiErr = &Error{
			HTTPCode:     statusCode,
			Status:       http.StatusText(statusCode),
			ErrorName:    "ServiceUnavailable",
			ErrorMessage: abbreviateBody(raw),
		}
	}
	if apiErr.HTTPCode == 0 {
		apiErr.HTTPCode = statusCode
	}
	return apiErr
}

func sanitizeSensitiveText(value string, settings Settings) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	if key := strings.TrimSpace(settings.DeveloperSecretKey); key != "" {
		value = strings.ReplaceAll(value, key, "REDACTED")
	}
	return value
}

func buildCurlPreview(fullURL, authHeaderName string, body []byte) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	appendPart := func(part string) {
		if buf.Len() > 0 {
			_ = buf.WriteByte(' ')
		}
		_, _ = buf.WriteString(part)
	}
	appendHeader := func(value string) {
		appendPart("-H")
		appendPart(shellQuote(value))
	}

	appendPart("curl")
	appendPart("-X")
	appendPart("POST")
	appendPart(shellQuote(fullURL))
	appendHeader("Content-Type: application/json")
	appendHeader("X-PlayFabSDK: " + SDKVersionString())
	if authHeaderName != "" {
		appendHeader(authHeaderName + ": ***")
	}
	appendPart("-d")
	appendPart(shellQuote(abbreviateBody(body)))

	return buf.String()
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "'\"'\"'") + "'"
}

func abbreviateBody(raw []byte) string {
	const maxLen = 2048
	value := strings.TrimSpace(string(raw))
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen] + "...(truncated " + strconv.Itoa(len(value)-maxLen) + " bytes)"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
