// Package garmin is a minimal Garmin Connect client covering the weigh-in
// surface: SSO login, querying recorded weigh-ins, and uploading body
// composition entries.
package garmin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/amariano/bodysync/internal/xhttp"
	go_json "github.com/goccy/go-json"
)

const (
	defaultBaseURL = "https://connectapi.garmin.com"
	defaultSSOURL  = "https://sso.garmin.com/sso"

	defaultTimeout = 30 * time.Second

	// Conservative client-side pacing; Garmin does not document limits.
	defaultRequestsPerSecond = 2
	defaultBurst             = 4
)

type Client struct {
	Weight WeightService

	baseURL    string
	httpClient *http.Client
	auth       *Authenticator
	logger     *slog.Logger
}

func New(creds Credentials, opts ...Option) *Client {
	cfg := &clientConfig{
		baseURL: defaultBaseURL,
		ssoURL:  defaultSSOURL,
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	transport := xhttp.NewRateLimitedTransport(xhttp.NewTransport(), defaultRequestsPerSecond, defaultBurst)
	httpClient := xhttp.NewHTTPClient(
		xhttp.WithTransport(transport),
		xhttp.WithTimeout(cfg.timeout),
	)

	auth := NewAuthenticator(
		cfg.ssoURL,
		cfg.baseURL+"/oauth-service/oauth/exchange",
		creds,
		httpClient,
		cfg.tokenCache,
		cfg.logger,
	)

	c := &Client{
		baseURL:    cfg.baseURL,
		httpClient: httpClient,
		auth:       auth,
		logger:     cfg.logger,
	}
	c.Weight = &weightService{client: c}

	return c
}

// Session exposes the session manager, mainly so the orchestrator can
// distinguish a terminally failed session from record-level errors.
func (c *Client) Session() *Authenticator {
	return c.auth
}

type clientConfig struct {
	baseURL    string
	ssoURL     string
	timeout    time.Duration
	tokenCache TokenCache
	logger     *slog.Logger
}

type Option func(*clientConfig)

func WithBaseURL(baseURL string) Option {
	return func(cfg *clientConfig) { cfg.baseURL = baseURL }
}

func WithSSOURL(ssoURL string) Option {
	return func(cfg *clientConfig) { cfg.ssoURL = ssoURL }
}

func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) { cfg.timeout = d }
}

func WithTokenCache(cache TokenCache) Option {
	return func(cfg *clientConfig) { cfg.tokenCache = cache }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) { cfg.logger = logger }
}

// do executes one authenticated request. On an authorization failure it
// delegates to the session manager for a single re-authentication cycle and
// replays the request once with the fresh session.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = go_json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	const maxAuthReplays = 1
	for replay := 0; ; replay++ {
		token, err := c.auth.Token(ctx)
		if err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request: %w", err)
		}

		if apiErr := authFailure(resp); apiErr != nil {
			_ = resp.Body.Close()
			if replay >= maxAuthReplays {
				return apiErr
			}
			c.auth.Invalidate(token.AccessToken)
			if _, err := c.auth.Renew(ctx, token.AccessToken); err != nil {
				return err
			}
			continue
		}

		return c.finish(resp, result)
	}
}

func authFailure(resp *http.Response) *APIError {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == statusSessionExpired {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	return nil
}

func (c *Client) finish(resp *http.Response, result any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return parseAPIError(resp)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if err := go_json.NewDecoder(bytes.NewReader(body)).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w\nbody: %s", err, string(body))
		}
	}

	return nil
}
