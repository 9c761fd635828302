package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"segclip/internal/logger"
)

const retryDelay = 100 * time.Millisecond

// HTTP reads remote files with a per-attempt timeout and retries.
type HTTP struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string
	retries    int
	timeout    time.Duration
}

// NewHTTP creates a reader. retries is the total number of attempts made per
// file and is at least one.
func NewHTTP(log logger.Logger, userAgent string, retries int, timeout time.Duration) *HTTP {
	if retries < 1 {
		retries = 1
	}
	transport := &http.Transport{
		ResponseHeaderTimeout: timeout,
	}
	return &HTTP{
		httpClient: &http.Client{Transport: transport},
		logger:     log,
		userAgent:  userAgent,
		retries:    retries,
		timeout:    timeout,
	}
}

// ReadFile fetches url. A 404 is reported as fs.ErrNotExist without retrying.
func (h *HTTP) ReadFile(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= h.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch of %s cancelled: %w", url, errors.Join(ctx.Err(), lastErr))
			case <-time.After(retryDelay):
			}
		}

		data, retry, err := h.attempt(ctx, url)
		if err == nil {
			h.logger.Debugf("Successfully fetched %s (%d bytes)", url, len(data))
			return data, nil
		}
		lastErr = fmt.Errorf("fetch attempt %d/%d for %s failed: %w", attempt, h.retries, url, err)
		if !retry {
			return nil, lastErr
		}
		h.logger.Warnf("%v", lastErr)
	}

	return nil, fmt.Errorf("failed to fetch %s after %d attempts: %w", url, h.retries, lastErr)
}

func (h *HTTP) attempt(ctx context.Context, url string) (data []byte, retry bool, err error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		// Malformed URLs never succeed.
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("received status %d: %w", resp.StatusCode, fs.ErrNotExist)
	case resp.StatusCode != http.StatusOK:
		return nil, true, fmt.Errorf("received non-200 status: %d", resp.StatusCode)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed while reading body: %w", err)
	}
	return data, false, nil
}
