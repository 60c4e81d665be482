package garmin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/amariano/bodysync/internal/xslog"
	go_json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// State tracks the session lifecycle against Garmin's SSO surface.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateExpired         State = "expired"
	StateFailed          State = "failed"
)

// maxAuthRetries bounds consecutive re-authentication attempts for one run.
// Repeated rejections mean bad credentials, not transient expiry.
const maxAuthRetries = 1

// expirySkew renews tokens slightly before their advertised expiry so an
// in-flight request does not race the deadline.
const expirySkew = 30 * time.Second

type Credentials struct {
	Email    string
	Password string
}

// Authenticator owns the authentication state for one run: login, token
// caching, expiry detection, and single-flighted re-authentication. It is
// safe for concurrent use; when several uploads observe an expired session
// at once, exactly one login is performed and the rest wait for its result.
type Authenticator struct {
	ssoURL      string
	exchangeURL string
	creds       Credentials
	httpClient  *http.Client
	cache       TokenCache
	logger      *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	state    State
	token    *oauth2.Token
	failures int
}

func NewAuthenticator(ssoURL, exchangeURL string, creds Credentials, httpClient *http.Client, cache TokenCache, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		ssoURL:      ssoURL,
		exchangeURL: exchangeURL,
		creds:       creds,
		httpClient:  httpClient,
		cache:       cache,
		logger:      logger,
		state:       StateUnauthenticated,
	}
}

func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Token returns a valid session token, logging in on first use. A cached
// token from a previous run is reused while unexpired.
func (a *Authenticator) Token(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	switch {
	case a.state == StateFailed:
		a.mu.Unlock()
		return nil, ErrAuthFailed
	case a.state == StateAuthenticated && a.token != nil && a.token.Valid():
		tok := a.token
		a.mu.Unlock()
		return tok, nil
	}

	if a.token == nil && a.cache != nil {
		if cached, err := a.cache.Load(); err == nil && cached != nil && cached.Valid() {
			a.token = cached
			a.state = StateAuthenticated
			a.mu.Unlock()
			a.logger.DebugContext(ctx, "reusing cached garmin session")
			return cached, nil
		}
	}
	a.mu.Unlock()

	return a.renew(ctx, a.currentAccessToken())
}

// Invalidate marks the session expired after a remote call came back with an
// authorization failure. The next Token call re-authenticates.
func (a *Authenticator) Invalidate(staleAccessToken string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateFailed {
		return
	}
	if a.token != nil && a.token.AccessToken != staleAccessToken {
		// someone already replaced the session; nothing to do.
		return
	}
	a.state = StateExpired
}

// Renew performs one re-authentication cycle. Concurrent callers holding the
// same stale token share a single login attempt.
func (a *Authenticator) Renew(ctx context.Context, staleAccessToken string) (*oauth2.Token, error) {
	return a.renew(ctx, staleAccessToken)
}

func (a *Authenticator) currentAccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == nil {
		return ""
	}
	return a.token.AccessToken
}

func (a *Authenticator) renew(ctx context.Context, staleAccessToken string) (*oauth2.Token, error) {
	v, err, _ := a.group.Do("login", func() (any, error) {
		a.mu.Lock()
		if a.state == StateFailed {
			a.mu.Unlock()
			return nil, ErrAuthFailed
		}
		// A waiter that lost the race to invalidate may arrive after a
		// fresh login already replaced the stale session.
		if a.token != nil && a.token.Valid() && a.token.AccessToken != staleAccessToken {
			tok := a.token
			a.mu.Unlock()
			return tok, nil
		}
		a.state = StateAuthenticating
		a.mu.Unlock()

		tok, err := a.login(ctx)

		a.mu.Lock()
		defer a.mu.Unlock()
		if err != nil {
			a.failures++
			if a.failures > maxAuthRetries {
				a.state = StateFailed
			} else {
				a.state = StateExpired
			}
			// any rejected login aborts the run; the state records whether
			// a later run may try again.
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}

		a.failures = 0
		a.state = StateAuthenticated
		a.token = tok

		if a.cache != nil {
			if cacheErr := a.cache.Store(tok); cacheErr != nil {
				a.logger.WarnContext(ctx, "failed to cache garmin session", xslog.Error(cacheErr))
			}
		}

		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

var ticketPattern = regexp.MustCompile(`ticket=([^"&\s]+)`)

// login exchanges credentials for a session token: credentials buy an SSO
// ticket, the ticket buys an OAuth token at the exchange endpoint.
func (a *Authenticator) login(ctx context.Context) (*oauth2.Token, error) {
	ticket, err := a.fetchTicket(ctx)
	if err != nil {
		return nil, err
	}
	return a.exchangeTicket(ctx, ticket)
}

func (a *Authenticator) fetchTicket(ctx context.Context) (string, error) {
	form := url.Values{
		"username": {a.creds.Email},
		"password": {a.creds.Password},
		"embed":    {"false"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.ssoURL+"/signin", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating signin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing signin request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", parseAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading signin response: %w", err)
	}

	match := ticketPattern.FindSubmatch(body)
	if match == nil {
		return "", fmt.Errorf("no service ticket in signin response")
	}
	return string(match[1]), nil
}

func (a *Authenticator) exchangeTicket(ctx context.Context, ticket string) (*oauth2.Token, error) {
	form := url.Values{"ticket": {ticket}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.exchangeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing exchange request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := go_json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding exchange response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("exchange response missing access token")
	}

	tok := &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   payload.TokenType,
	}
	if payload.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - expirySkew)
	}
	return tok, nil
}
