package typetalk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"mailrelay/internal/config"
)

var (
	ErrCredential = errors.New("typetalk credential error")
	ErrChatAPI    = errors.New("typetalk api error")
)

// APIError carries the response of a failed Typetalk call.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("typetalk api error: %s %s status=%d\n%s", e.Method, e.URL, e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrChatAPI
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	OAuth   clientcredentials.Config
	Logger  *slog.Logger
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimSuffix(cfg.Typetalk.APIBaseURL, "/")
	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		OAuth: clientcredentials.Config{
			ClientID:     cfg.Typetalk.ClientID,
			ClientSecret: cfg.Typetalk.ClientSecret,
			TokenURL:     base + "/oauth2/access_token",
			Scopes:       []string{cfg.Typetalk.Scope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		Logger: logger,
	}
}

// AcquireCredential runs the client-credentials exchange. Tokens are not
// cached across calls.
func (c *Client) AcquireCredential(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTP)
	tok, err := c.OAuth.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrCredential)
	}
	return tok.AccessToken, nil
}

// Open acquires a credential and returns a handle bound to one topic.
func (c *Client) Open(ctx context.Context, topicID int64) (*Topic, error) {
	token, err := c.AcquireCredential(ctx)
	if err != nil {
		return nil, err
	}
	return &Topic{client: c, token: token, id: topicID}, nil
}

// PostViaBot posts message through a bot URL that already carries its token.
func (c *Client) PostViaBot(ctx context.Context, botURL string, message string) error {
	form := url.Values{"message": {message}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, botURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = c.send(req)
	return err
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrChatAPI, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrChatAPI, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: req.Method, URL: req.URL.Path, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) request(ctx context.Context, token, method, path string, query url.Values, form url.Values) ([]byte, error) {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return c.send(req)
}

func (c *Client) upload(ctx context.Context, token, path string, payload *bytes.Buffer, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)
	return c.send(req)
}
