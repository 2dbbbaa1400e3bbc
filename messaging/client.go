// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/atelier-works/atelier/lib/clock"
	"github.com/atelier-works/atelier/lib/netutil"
	"github.com/atelier-works/atelier/lib/ref"
)

// Retry policy for homeserver requests.
const (
	// maxAttempts bounds the retry loop, counting the first try.
	maxAttempts = 5

	// minRateLimitSleep floors the server-suggested 429 backoff.
	minRateLimitSleep = 250 * time.Millisecond

	// maxRateLimitSleep caps the synthesized 429 backoff when the
	// server supplies no retry_after_ms.
	maxRateLimitSleep = 8 * time.Second

	// rateLimitSleepStep is multiplied by the attempt number to
	// synthesize a backoff when the server supplies no retry_after_ms.
	rateLimitSleepStep = 500 * time.Millisecond
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver. It is
	// normalized: trailing slash, query, fragment, and well-known path
	// suffixes are stripped.
	HomeserverURL string

	// UserID is the bot's own Matrix user ID.
	UserID ref.UserID

	// AccessToken authenticates requests directly. Mutually exclusive
	// with Password.
	AccessToken string

	// Password is exchanged for an access token by Authenticate.
	Password string

	// TransactionPrefix prefixes idempotency transaction IDs for
	// message sends. Defaults to "atelier".
	TransactionPrefix string

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// Clock drives retry sleeps and transaction timestamps. If nil,
	// clock.Real() is used.
	Clock clock.Clock
}

// Client is an authenticated Matrix client for the orchestrator bot.
type Client struct {
	baseURL     string
	userID      ref.UserID
	accessToken string
	password    string
	txnPrefix   string
	httpClient  *http.Client
	logger      *slog.Logger
	clock       clock.Clock

	// txnCounter generates unique transaction IDs for idempotent sends.
	txnCounter atomic.Int64
}

// NewClient creates a Matrix client. Exactly one of AccessToken or
// Password must be set; in password mode, call Authenticate before any
// authenticated operation.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	if config.UserID.IsZero() {
		return nil, fmt.Errorf("messaging: UserID is required")
	}
	if (config.AccessToken == "") == (config.Password == "") {
		return nil, fmt.Errorf("messaging: exactly one of AccessToken or Password is required")
	}

	baseURL, err := NormalizeHomeserverURL(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	txnPrefix := config.TransactionPrefix
	if txnPrefix == "" {
		txnPrefix = "atelier"
	}

	return &Client{
		baseURL:     baseURL,
		userID:      config.UserID,
		accessToken: config.AccessToken,
		password:    config.Password,
		txnPrefix:   txnPrefix,
		httpClient:  httpClient,
		logger:      logger,
		clock:       clk,
	}, nil
}

// wellKnownVersionSuffix matches a trailing /_matrix/client/vN path.
var wellKnownVersionSuffix = regexp.MustCompile(`/_matrix/client/v[0-9]+$`)

// NormalizeHomeserverURL strips trailing slashes, query, and fragment
// from a homeserver URL, plus any trailing well-known path suffix
// (/_matrix/static, /_matrix/client, or /_matrix/client/vN). A residual
// base path — a homeserver behind a path-routing proxy — is preserved.
func NormalizeHomeserverURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("URL must be absolute: %q", raw)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""

	normalized := strings.TrimRight(parsed.String(), "/")
	switch {
	case strings.HasSuffix(normalized, "/_matrix/static"):
		normalized = strings.TrimSuffix(normalized, "/_matrix/static")
	case wellKnownVersionSuffix.MatchString(normalized):
		normalized = wellKnownVersionSuffix.ReplaceAllString(normalized, "")
	case strings.HasSuffix(normalized, "/_matrix/client"):
		normalized = strings.TrimSuffix(normalized, "/_matrix/client")
	}
	return strings.TrimRight(normalized, "/"), nil
}

// UserID returns the bot's Matrix user ID.
func (c *Client) UserID() ref.UserID { return c.userID }

// HomeserverURL returns the normalized homeserver base URL.
func (c *Client) HomeserverURL() string { return c.baseURL }

// AccessToken returns the current access token: the configured static
// token, or the one obtained by Authenticate in password mode.
func (c *Client) AccessToken() string { return c.accessToken }

// ViaServer returns the server name used in space hierarchy link
// events: the homeserver host when parseable, otherwise the server
// part of the bot's user ID.
func (c *Client) ViaServer() string {
	if parsed, err := url.Parse(c.baseURL); err == nil && parsed.Hostname() != "" {
		return parsed.Hostname()
	}
	return c.userID.Server()
}

// Authenticate ensures the client holds an access token. With a static
// token this is a no-op. In password mode it performs m.login.password
// and fails unless the response carries both access_token and user_id.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.accessToken != "" {
		return nil
	}

	loginRequest := LoginRequest{
		Type:                     "m.login.password",
		User:                     c.userID.String(),
		Password:                 c.password,
		InitialDeviceDisplayName: "atelier-orchestrator",
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, loginRequest)
	if err != nil {
		return fmt.Errorf("messaging: login failed: %w", err)
	}

	var authResponse AuthResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return fmt.Errorf("messaging: failed to parse login response: %w", err)
	}
	if authResponse.AccessToken == "" || authResponse.UserID.IsZero() {
		return fmt.Errorf("messaging: login response missing access_token or user_id")
	}

	c.accessToken = authResponse.AccessToken
	c.password = ""
	c.logger.Info("logged in to matrix",
		"user_id", authResponse.UserID,
		"device_id", authResponse.DeviceID,
	)
	return nil
}

// VerifyConnection probes the homeserver. It checks the unauthenticated
// versions endpoint, then whoami, and fails unless the homeserver
// reports the configured bot identity.
func (c *Client) VerifyConnection(ctx context.Context) error {
	body, err := c.doUnauthenticated(ctx, http.MethodGet, "/_matrix/client/versions")
	if err != nil {
		return fmt.Errorf("messaging: homeserver version probe failed: %w", err)
	}
	var versions ServerVersionsResponse
	if err := json.Unmarshal(body, &versions); err != nil {
		return fmt.Errorf("messaging: failed to parse versions response: %w", err)
	}
	if len(versions.Versions) == 0 {
		return fmt.Errorf("messaging: homeserver reported no protocol versions")
	}

	body, err = c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil)
	if err != nil {
		return fmt.Errorf("messaging: whoami failed: %w", err)
	}
	var whoami WhoAmIResponse
	if err := json.Unmarshal(body, &whoami); err != nil {
		return fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	if whoami.UserID != c.userID {
		return fmt.Errorf("messaging: homeserver identity mismatch: whoami returned %s, configured as %s",
			whoami.UserID, c.userID)
	}

	c.logger.Info("matrix connection verified",
		"user_id", whoami.UserID,
		"versions", len(versions.Versions),
	)
	return nil
}

// doRequest performs an authenticated HTTP request under the retry
// policy and returns the response body. On a non-2xx final response,
// the body is returned alongside a *MatrixError.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, requestBody any) ([]byte, error) {
	var encoded []byte
	if requestBody != nil {
		var err error
		encoded, err = json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
	}

	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	return c.retryLoop(ctx, method, path, func() ([]byte, error) {
		return c.doOnce(ctx, method, requestURL, encoded, requestBody != nil, true)
	})
}

// doUnauthenticated performs a request without the Authorization
// header, under the same retry policy.
func (c *Client) doUnauthenticated(ctx context.Context, method, path string) ([]byte, error) {
	return c.retryLoop(ctx, method, path, func() ([]byte, error) {
		return c.doOnce(ctx, method, c.baseURL+path, nil, false, false)
	})
}

// retryLoop wraps a single-shot request in the 429 retry policy: up to
// maxAttempts tries, sleeping between rate-limited attempts. Any
// failure other than HTTP 429 is returned immediately.
func (c *Client) retryLoop(ctx context.Context, method, path string, once func() ([]byte, error)) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		body, err := once()
		if err == nil {
			return body, nil
		}

		var matrixErr *MatrixError
		rateLimited := false
		if e, ok := err.(*MatrixError); ok { //nolint:errorlint // doOnce returns the error unwrapped
			matrixErr = e
			rateLimited = e.StatusCode == http.StatusTooManyRequests
		}
		if !rateLimited || attempt >= maxAttempts {
			return body, fmt.Errorf("messaging: %s %s failed: %w", method, path, err)
		}

		sleep := rateLimitSleepStep * time.Duration(attempt)
		if sleep > maxRateLimitSleep {
			sleep = maxRateLimitSleep
		}
		if matrixErr.RetryAfterMS > 0 {
			sleep = time.Duration(matrixErr.RetryAfterMS) * time.Millisecond
			if sleep < minRateLimitSleep {
				sleep = minRateLimitSleep
			}
		}
		c.logger.Debug("rate limited by homeserver, backing off",
			"method", method,
			"path", path,
			"attempt", attempt,
			"sleep", sleep,
		)
		c.clock.Sleep(sleep)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("messaging: %s %s cancelled during rate-limit backoff: %w", method, path, ctx.Err())
		}
	}
}

// doOnce performs one HTTP round trip. On 2xx, returns the body. On
// 4xx/5xx, returns the body alongside a *MatrixError (unwrapped, so the
// retry loop can type-assert directly).
func (c *Client) doOnce(ctx context.Context, method, requestURL string, encodedBody []byte, hasBody, authenticated bool) ([]byte, error) {
	var bodyReader io.Reader
	if hasBody {
		bodyReader = bytes.NewReader(encodedBody)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if hasBody {
		request.Header.Set("Content-Type", "application/json")
	}
	if authenticated && c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses use the same JSON shape.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		// Non-JSON error body, usually a reverse proxy answering for a
		// homeserver that is down. Fail loud with the raw body.
		return nil, fmt.Errorf("unexpected %d response: %s", response.StatusCode, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return responseBody, &matrixErr
}

// nextTransactionID generates a per-client monotonically increasing
// transaction ID for idempotent sends.
func (c *Client) nextTransactionID() string {
	return fmt.Sprintf("%s-%d-%d", c.txnPrefix, c.clock.Now().UnixMilli(), c.txnCounter.Add(1))
}
