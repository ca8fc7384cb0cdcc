// Package content provides the HTTP implementation of the content-fetch
// collaborator: it resolves content references that are URLs into
// document bytes.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/docassist/docassist-api/internal/analysis"
)

// Default fetcher limits.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 32 << 20 // 32 MiB
)

// HTTPFetcher fetches document bytes over HTTP(S). Failures are
// classified into the analysis sentinel errors: 404 means the content is
// gone for good, everything else is worth a retry.
type HTTPFetcher struct {
	client       *http.Client
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHTTPFetcher creates an HTTP content fetcher. A nil client gets a
// default one with DefaultTimeout.
func NewHTTPFetcher(client *http.Client, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		client:       client,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logger.With("component", "http_fetcher"),
	}
}

// Fetch downloads the document at the given URL.
func (f *HTTPFetcher) Fetch(ctx context.Context, contentRef string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentRef, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid content reference %q: %v",
			analysis.ErrContentNotFound, contentRef, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fetch %q: %v", analysis.ErrTransient, contentRef, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %q returned %d", analysis.ErrContentNotFound, contentRef, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: %q returned %d", analysis.ErrTransient, contentRef, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", analysis.ErrTransient, contentRef, err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", analysis.ErrContentRejected, contentRef, f.maxBodyBytes)
	}

	f.logger.Debug("fetched content", "content_ref", contentRef, "bytes", len(body))
	return body, nil
}

// Ensure HTTPFetcher implements analysis.ContentFetcher.
var _ analysis.ContentFetcher = (*HTTPFetcher)(nil)
