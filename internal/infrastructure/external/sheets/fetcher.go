// Package sheets downloads the published tuition-ledger workbook.
// The ledger is maintained as a hosted spreadsheet; this package fetches its
// binary export over HTTP with bounded retries and exposes the lightweight
// metadata endpoint carrying the sheet's revision token.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/velasquezhn3/chatbotwhatsapp/pkg/retry"
)

var (
	// ErrFetchFailed is returned when all download attempts are exhausted.
	ErrFetchFailed = errors.New("sheets: fetch failed")

	// ErrBadStatus is returned for a non-success HTTP status.
	ErrBadStatus = errors.New("sheets: unexpected status")
)

// Config contains configuration for the ledger fetcher.
type Config struct {
	// ExportURL is the workbook binary export URL.
	ExportURL string

	// MetadataURL is the lightweight metadata endpoint exposing the
	// revision token.
	MetadataURL string

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
func DefaultConfig(exportURL, metadataURL string) Config {
	return Config{
		ExportURL:   exportURL,
		MetadataURL: metadataURL,
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
	}
}

// Fetcher downloads the ledger export.
type Fetcher struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a new Fetcher.
func NewFetcher(config Config) *Fetcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Fetcher{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger,
	}
}

// Download fetches the workbook export. Timeouts and transport errors are
// retried up to the configured bound with a fixed inter-attempt delay;
// exhausting the bound surfaces a terminal failure.
func (f *Fetcher) Download(ctx context.Context) ([]byte, error) {
	data, err := retry.DoWithData(ctx, func(ctx context.Context) ([]byte, error) {
		body, err := f.get(ctx, f.config.ExportURL)
		if err != nil {
			f.logger.Warn("ledger download attempt failed", "error", err)
		}
		return body, err
	},
		retry.WithMaxAttempts(f.config.MaxAttempts),
		retry.WithInitialDelay(f.config.RetryDelay),
		retry.WithMultiplier(1.0),
		retry.WithJitter(0),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return data, nil
}

// Revision queries the metadata endpoint and returns the current revision
// token of the hosted workbook.
func (f *Fetcher) Revision(ctx context.Context) (string, error) {
	body, err := f.get(ctx, f.config.MetadataURL)
	if err != nil {
		return "", fmt.Errorf("sheets: metadata: %w", err)
	}

	var meta struct {
		Revision string `json:"revision"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("sheets: parse metadata: %w", err)
	}
	return meta.Revision, nil
}

// get performs a single GET request.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are transient.
		return nil, retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError ||
			resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.Retryable(statusErr)
		}
		return nil, retry.Permanent(statusErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("read response: %w", err))
	}
	return body, nil
}
