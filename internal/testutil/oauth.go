package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledgerback/internal/engine"
)

// StubOAuth is a scripted engine.OAuthClient for token manager tests.
type StubOAuth struct {
	mu sync.Mutex

	// ExchangeCred is returned by ExchangeCode; ExchangeErr wins when set.
	ExchangeCred *engine.Credential
	ExchangeErr  error

	// RefreshExpiry and RefreshRotates script Refresh. Each successful call
	// returns access token "refreshed-N" with N counting from 1.
	RefreshExpiry  time.Time
	RefreshRotates bool
	RefreshErr     error
	RefreshDelay   time.Duration

	RefreshCalls  int
	RevokeCalls   int
	RevokedTokens []string
	RevokeErr     error
}

func NewStubOAuth() *StubOAuth {
	return &StubOAuth{}
}

func (o *StubOAuth) ExchangeCode(ctx context.Context, code, redirectURI string) (*engine.Credential, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ExchangeErr != nil {
		return nil, o.ExchangeErr
	}
	if o.ExchangeCred == nil {
		return nil, fmt.Errorf("no exchange credential scripted")
	}
	cp := *o.ExchangeCred
	return &cp, nil
}

func (o *StubOAuth) Refresh(ctx context.Context, refreshToken string) (*engine.Credential, error) {
	o.mu.Lock()
	delay := o.RefreshDelay
	o.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.RefreshCalls++
	if o.RefreshErr != nil {
		return nil, o.RefreshErr
	}

	cred := &engine.Credential{
		AccessToken:  fmt.Sprintf("refreshed-%d", o.RefreshCalls),
		AccessExpiry: o.RefreshExpiry,
	}
	if o.RefreshRotates {
		cred.RefreshToken = fmt.Sprintf("rotated-%d", o.RefreshCalls)
	}
	return cred, nil
}

func (o *StubOAuth) Revoke(ctx context.Context, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.RevokeCalls++
	o.RevokedTokens = append(o.RevokedTokens, token)
	return o.RevokeErr
}

var _ engine.OAuthClient = (*StubOAuth)(nil)
