// Package google implements the engine's OAuthClient against Google's OAuth 2.0
// endpoints using golang.org/x/oauth2 for code exchange and refresh. Token
// revocation is a plain form POST; x/oauth2 does not cover it.
package google

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"ledgerback/internal/engine"
)

const (
	defaultAuthURL   = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
	defaultRevokeURL = "https://oauth2.googleapis.com/revoke"

	// driveFileScope grants access only to files this application created.
	driveFileScope = "https://www.googleapis.com/auth/drive.file"

	defaultTimeout = 30 * time.Second
)

// Config holds the OAuth client registration. Zero URL values select the
// Google production endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	RevokeURL string

	// Timeout bounds every network call; a hung exchange or refresh must
	// fail rather than wedge the upkeep loop.
	Timeout time.Duration

	HTTPClient *http.Client
}

// Client performs code exchange, silent refresh and revocation.
type Client struct {
	conf       *oauth2.Config
	revokeURL  string
	timeout    time.Duration
	httpClient *http.Client
}

var _ engine.OAuthClient = (*Client)(nil)

func NewClient(cfg Config) *Client {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = defaultRevokeURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{driveFileScope}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		revokeURL:  revokeURL,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// AuthCodeURL returns the consent page URL the operator opens to obtain an
// authorization code. Offline access is requested so the exchange yields a
// refresh token.
func (c *Client) AuthCodeURL(redirectURI string) string {
	conf := *c.conf
	conf.RedirectURL = redirectURI
	return conf.AuthCodeURL("state", oauth2.AccessTypeOffline)
}

// ExchangeCode trades an authorization code for an access+refresh pair.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*engine.Credential, error) {
	conf := *c.conf
	conf.RedirectURL = redirectURI

	ctx, cancel := c.boundContext(ctx)
	defer cancel()

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}
	return credentialFromToken(tok), nil
}

// Refresh obtains a new access token with a refresh token. When the provider
// rotates the refresh token the new one is included; otherwise the returned
// credential's RefreshToken is empty and the caller keeps the old one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*engine.Credential, error) {
	ctx, cancel := c.boundContext(ctx)
	defer cancel()

	ts := c.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}

	cred := credentialFromToken(tok)
	if cred.RefreshToken == refreshToken {
		cred.RefreshToken = ""
	}
	return cred, nil
}

// Revoke invalidates a token at the provider's revocation endpoint.
func (c *Client) Revoke(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token revocation: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token revocation: status %d", resp.StatusCode)
	}
	return nil
}

// boundContext attaches the client's HTTP client and timeout, so x/oauth2
// uses our transport instead of http.DefaultClient.
func (c *Client) boundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.timeout)
}

func credentialFromToken(tok *oauth2.Token) *engine.Credential {
	return &engine.Credential{
		AccessToken:  tok.AccessToken,
		AccessExpiry: tok.Expiry,
		RefreshToken: tok.RefreshToken,
	}
}
