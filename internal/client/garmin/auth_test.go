package garmin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// fakeSSO is an httptest server speaking just enough of the signin/exchange
// handshake for the Authenticator.
type fakeSSO struct {
	mu           sync.Mutex
	signinCalls  int32
	rejectLogins bool
	expiresIn    int64
	tokenSeq     int
}

func (f *fakeSSO) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sso/signin", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.signinCalls, 1)
		f.mu.Lock()
		reject := f.rejectLogins
		f.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, `<a href="https://connect.garmin.com/?ticket=ST-0123456">continue</a>`)
	})
	mux.HandleFunc("/oauth-service/oauth/exchange", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenSeq++
		seq := f.tokenSeq
		expiresIn := f.expiresIn
		f.mu.Unlock()
		if expiresIn == 0 {
			expiresIn = 3600
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":%d}`, seq, expiresIn)
	})
	return mux
}

func newTestAuthenticator(t *testing.T, sso *fakeSSO, cache TokenCache) (*Authenticator, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(sso.handler())
	t.Cleanup(srv.Close)

	auth := NewAuthenticator(
		srv.URL+"/sso",
		srv.URL+"/oauth-service/oauth/exchange",
		Credentials{Email: "user@example.com", Password: "hunter2"},
		srv.Client(),
		cache,
		slog.New(slog.DiscardHandler),
	)
	return auth, srv
}

func TestAuthenticatorLogin(t *testing.T) {
	t.Parallel()

	sso := &fakeSSO{}
	auth, _ := newTestAuthenticator(t, sso, nil)

	if got := auth.State(); got != StateUnauthenticated {
		t.Fatalf("initial state = %s, want %s", got, StateUnauthenticated)
	}

	tok, err := auth.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "token-1" {
		t.Errorf("AccessToken = %q, want token-1", tok.AccessToken)
	}
	if got := auth.State(); got != StateAuthenticated {
		t.Errorf("state = %s, want %s", got, StateAuthenticated)
	}

	// second call reuses the session without another login.
	if _, err := auth.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if calls := atomic.LoadInt32(&sso.signinCalls); calls != 1 {
		t.Errorf("signin calls = %d, want 1", calls)
	}
}

func TestAuthenticatorInvalidateTriggersRelogin(t *testing.T) {
	t.Parallel()

	sso := &fakeSSO{}
	auth, _ := newTestAuthenticator(t, sso, nil)

	tok, err := auth.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	auth.Invalidate(tok.AccessToken)
	if got := auth.State(); got != StateExpired {
		t.Errorf("state after invalidate = %s, want %s", got, StateExpired)
	}

	fresh, err := auth.Renew(context.Background(), tok.AccessToken)
	if err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	if fresh.AccessToken == tok.AccessToken {
		t.Errorf("Renew() returned the stale token %q", fresh.AccessToken)
	}
	if got := auth.State(); got != StateAuthenticated {
		t.Errorf("state after renew = %s, want %s", got, StateAuthenticated)
	}
}

func TestAuthenticatorConcurrentRenewSingleLogin(t *testing.T) {
	t.Parallel()

	sso := &fakeSSO{}
	auth, _ := newTestAuthenticator(t, sso, nil)

	tok, err := auth.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	auth.Invalidate(tok.AccessToken)
	baseline := atomic.LoadInt32(&sso.signinCalls)

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]*oauth2.Token, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := auth.Renew(context.Background(), tok.AccessToken)
			if err != nil {
				t.Errorf("Renew() error = %v", err)
				return
			}
			tokens[i] = fresh
		}()
	}
	wg.Wait()

	if calls := atomic.LoadInt32(&sso.signinCalls) - baseline; calls != 1 {
		t.Errorf("signin calls during concurrent renew = %d, want 1", calls)
	}
	for i, got := range tokens {
		if got == nil || got.AccessToken != tokens[0].AccessToken {
			t.Errorf("caller %d got a different token: %+v", i, got)
		}
	}
}

func TestAuthenticatorFailedIsTerminal(t *testing.T) {
	t.Parallel()

	sso := &fakeSSO{rejectLogins: true}
	auth, _ := newTestAuthenticator(t, sso, nil)

	// first failure: the session may still retry, but the error already
	// reads as an authentication failure so the run aborts immediately.
	if _, err := auth.Token(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Token() error = %v, want ErrAuthFailed on first rejected login", err)
	}
	if got := auth.State(); got != StateExpired {
		t.Fatalf("state after first failure = %s, want %s", got, StateExpired)
	}

	// second consecutive failure: terminal.
	_, err := auth.Token(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Token() error = %v, want ErrAuthFailed", err)
	}
	if got := auth.State(); got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}

	// no further network attempts once terminal.
	calls := atomic.LoadInt32(&sso.signinCalls)
	if _, err := auth.Token(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Token() error = %v, want ErrAuthFailed", err)
	}
	if got := atomic.LoadInt32(&sso.signinCalls); got != calls {
		t.Errorf("signin called again after terminal failure")
	}
}

type memoryTokenCache struct {
	mu  sync.Mutex
	tok *oauth2.Token
}

func (m *memoryTokenCache) Load() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok, nil
}

func (m *memoryTokenCache) Store(tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = tok
	return nil
}

func TestAuthenticatorReusesCachedToken(t *testing.T) {
	t.Parallel()

	cache := &memoryTokenCache{tok: &oauth2.Token{
		AccessToken: "cached-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}}

	sso := &fakeSSO{}
	auth, _ := newTestAuthenticator(t, sso, cache)

	tok, err := auth.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "cached-token" {
		t.Errorf("AccessToken = %q, want cached-token", tok.AccessToken)
	}
	if calls := atomic.LoadInt32(&sso.signinCalls); calls != 0 {
		t.Errorf("signin calls = %d, want 0", calls)
	}
}

func TestAuthenticatorIgnoresExpiredCachedToken(t *testing.T) {
	t.Parallel()

	cache := &memoryTokenCache{tok: &oauth2.Token{
		AccessToken: "stale-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(-time.Hour),
	}}

	sso := &fakeSSO{}
	auth, _ := newTestAuthenticator(t, sso, cache)

	tok, err := auth.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "token-1" {
		t.Errorf("AccessToken = %q, want fresh token-1", tok.AccessToken)
	}
}
