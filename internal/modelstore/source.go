package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Source fetches an artifact blob from somewhere other than local disk.
type Source interface {
	Fetch(ctx context.Context, w io.Writer) error
}

// HTTPSource downloads the artifact with a single unauthenticated GET.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource returns nil for an empty URL so callers can pass it straight
// into Options.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) URL() string { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build download request failed: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download response status %d", resp.StatusCode)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("read download body failed: %w", err)
	}
	if n == 0 {
		return errors.New("download body is empty")
	}
	return nil
}
