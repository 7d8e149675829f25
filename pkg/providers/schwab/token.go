// Package schwab is the typed client for the Schwab trader and market-data
// APIs. It is the canonical provider: quotes, price history, movers, market
// hours, accounts, and orders, with OAuth token lifecycle per logical app.
package schwab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const tokenURL = "https://api.schwabapi.com/v1/oauth/token"

// token is the on-disk OAuth token shape. Token files are separated per
// logical app so the market and trader credentials never mix.
type token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenManager owns the token file for one app and serializes refreshes:
// concurrent 401 recoveries collapse into a single refresh call.
type TokenManager struct {
	mu           sync.Mutex
	path         string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	tokenURL     string

	current *token
}

// NewTokenManager loads (or lazily creates) the token file for the given app
// under tokenDir.
func NewTokenManager(tokenDir, app, clientID, clientSecret string) *TokenManager {
	return &TokenManager{
		path:         filepath.Join(tokenDir, fmt.Sprintf("schwab_%s_token.json", app)),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		tokenURL:     tokenURL,
	}
}

// AccessToken returns the current access token, reading the token file on
// first use.
func (m *TokenManager) AccessToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		if err := m.loadLocked(); err != nil {
			return "", err
		}
	}
	return m.current.AccessToken, nil
}

// Refresh exchanges the refresh token for a new access token and persists
// the result. Callers invoke this once after an unauthorized response; the
// mutex ensures only one refresh runs at a time per app.
func (m *TokenManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		if err := m.loadLocked(); err != nil {
			return err
		}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", m.current.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create refresh request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(m.clientID + ":" + m.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh returned HTTP %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode token refresh: %w", err)
	}

	m.current.AccessToken = payload.AccessToken
	if payload.RefreshToken != "" {
		m.current.RefreshToken = payload.RefreshToken
	}
	m.current.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)

	return m.saveLocked()
}

func (m *TokenManager) loadLocked() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read token file %s: %w", m.path, err)
	}
	var t token
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse token file %s: %w", m.path, err)
	}
	m.current = &t
	return nil
}

func (m *TokenManager) saveLocked() error {
	data, err := json.MarshalIndent(m.current, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file %s: %w", m.path, err)
	}
	return nil
}
