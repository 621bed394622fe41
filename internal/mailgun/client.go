package mailgun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mailrelay/internal/config"
)

var (
	ErrUpstreamFetch   = errors.New("upstream fetch failed")
	ErrAttachmentFetch = errors.New("attachment fetch failed")
	ErrNotFound        = errors.New("message not found")
)

type Client struct {
	APIKey        string
	BaseURL       string
	SenderHeaders []string
	HTTP          *http.Client
	Logger        *slog.Logger
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		APIKey:        cfg.Mailgun.APIKey,
		BaseURL:       strings.TrimSuffix(cfg.Mailgun.APIBaseURL, "/"),
		SenderHeaders: cfg.Mailgun.SenderHeaders,
		HTTP:          &http.Client{Timeout: 30 * time.Second},
		Logger:        logger,
	}
}

// get issues an authenticated GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, rawURL string, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth("api", apiKey)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailgun %s: status=%d body=%s", rawURL, resp.StatusCode, truncate(string(body), 512))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
