// Package drive implements the client for the school's secondary remote
// store: path-addressed binary resources (circulars, receipts, media used
// by the chat menus) behind OAuth2 refresh-token bearer authentication.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/velasquezhn3/chatbotwhatsapp/pkg/retry"
)

var (
	// ErrUnauthorized is returned when the upstream rejects the bearer token.
	ErrUnauthorized = errors.New("drive: unauthorized")

	// ErrTokenRefresh is returned when the token refresh itself fails.
	ErrTokenRefresh = errors.New("drive: token refresh failed")

	// ErrNotFound is returned for an unknown path.
	ErrNotFound = errors.New("drive: resource not found")

	// ErrFetchFailed is returned when all download attempts are exhausted.
	ErrFetchFailed = errors.New("drive: fetch failed")
)

// Config contains configuration for the drive client.
type Config struct {
	// BaseURL is the file-content endpoint base.
	BaseURL string

	// TokenURL is the OAuth2 token endpoint.
	TokenURL string

	// ClientID and ClientSecret identify this service to the token endpoint.
	ClientID     string
	ClientSecret string

	// RefreshToken is the long-lived refresh token obtained out-of-band.
	RefreshToken string

	// TokenMaxAge is the wall-clock age after which the bearer token is
	// refreshed unconditionally.
	TokenMaxAge time.Duration

	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration

	// MaxAttempts is the total number of download attempts.
	MaxAttempts int

	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL, tokenURL string) Config {
	return Config{
		BaseURL:     baseURL,
		TokenURL:    tokenURL,
		TokenMaxAge: 50 * time.Minute,
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
	}
}

// Client is the secondary-store client. It owns the bearer token and its
// refresh cadence; callers never see credential expiry unless the refresh
// itself fails.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	// Token management
	token     string
	fetchedAt time.Time
	tokenMu   sync.Mutex
}

// NewClient creates a new drive client.
func NewClient(config Config) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger,
	}
}

// Download fetches the resource at the given path. Transport errors are
// retried to the configured bound with a fixed delay; a 401 triggers a
// synchronous token refresh and the attempt retries, invisible to the
// caller unless the refresh fails.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	data, err := retry.DoWithData(ctx, func(ctx context.Context) ([]byte, error) {
		return c.attempt(ctx, c.contentURL(path))
	},
		retry.WithMaxAttempts(c.config.MaxAttempts),
		retry.WithInitialDelay(c.config.RetryDelay),
		retry.WithMultiplier(1.0),
		retry.WithJitter(0),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, path, err)
	}
	return data, nil
}

// Fingerprint queries the metadata endpoint for the path and returns the
// server-issued revision fingerprint (content checksum).
func (c *Client) Fingerprint(ctx context.Context, path string) (string, error) {
	body, err := c.attempt(ctx, c.metadataURL(path))
	if err != nil {
		return "", fmt.Errorf("drive: metadata %s: %w", path, err)
	}

	var meta struct {
		MD5Checksum string `json:"md5Checksum"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("drive: parse metadata: %w", err)
	}
	return meta.MD5Checksum, nil
}

// attempt performs one authenticated GET, refreshing the token reactively
// on an authorization failure.
func (c *Client) attempt(ctx context.Context, fullURL string) ([]byte, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	body, err := c.get(ctx, fullURL, token)
	if errors.Is(err, ErrUnauthorized) {
		// The held token expired under us: clear it, refresh synchronously,
		// and retry this same attempt.
		c.invalidateToken(token)
		token, err = c.bearerToken(ctx)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		body, err = c.get(ctx, fullURL, token)
	}
	return body, err
}

// get performs a single authenticated GET request.
func (c *Client) get(ctx context.Context, fullURL, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(ErrNotFound)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, retry.Retryable(fmt.Errorf("server status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("read response: %w", err))
	}
	return body, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TOKEN MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// bearerToken returns the held token, refreshing it first when unset or
// older than the configured maximum age. The refresh is synchronous: the
// caller blocks until a fresh token is available.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && time.Since(c.fetchedAt) < c.config.TokenMaxAge {
		return c.token, nil
	}
	return c.refreshLocked(ctx)
}

// invalidateToken clears the held token if it is still the one that was
// observed failing. A token refreshed by a concurrent caller survives.
func (c *Client) invalidateToken(observed string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token == observed {
		c.token = ""
	}
}

// refreshLocked exchanges the refresh token for a fresh bearer token.
// Must be called with tokenMu held.
func (c *Client) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.config.RefreshToken},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrTokenRefresh, resp.StatusCode, string(body))
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("%w: parse response: %v", ErrTokenRefresh, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrTokenRefresh)
	}

	c.token = token.AccessToken
	c.fetchedAt = time.Now()
	c.logger.Debug("drive bearer token refreshed")

	return c.token, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// URL HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) contentURL(path string) string {
	return c.config.BaseURL + "/files/" + url.PathEscape(path) + "?alt=media"
}

func (c *Client) metadataURL(path string) string {
	return c.config.BaseURL + "/files/" + url.PathEscape(path) + "?fields=md5Checksum"
}
