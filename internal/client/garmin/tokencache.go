package garmin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	go_json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

// TokenCache persists the session token across runs so an unexpired session
// is reused instead of logging in again. Absence of a cache (or a corrupt
// one) only costs an extra login.
type TokenCache interface {
	Load() (*oauth2.Token, error)
	Store(*oauth2.Token) error
}

type fileTokenCache struct {
	path string
	mu   sync.Mutex
}

func NewFileTokenCache(path string) TokenCache {
	return &fileTokenCache{path: path}
}

func (c *fileTokenCache) Load() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var tok oauth2.Token
	if err := go_json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("unmarshaling token file: %w", err)
	}
	return &tok, nil
}

func (c *fileTokenCache) Store(tok *oauth2.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := go_json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}
