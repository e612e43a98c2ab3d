package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const passwordRealmGrant = "http://auth0.com/oauth/grant-type/password-realm"

var (
	ErrBadCredentials = errors.New("bad_credentials")
	ErrNotConfigured  = errors.New("identity_provider_not_configured")
)

type IdentityProviderConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string
	Realm        string
	Timeout      time.Duration
}

// IdentityProvider exchanges user credentials for an access token.
type IdentityProvider struct {
	cfg  IdentityProviderConfig
	http *http.Client
}

func NewIdentityProvider(cfg IdentityProviderConfig) *IdentityProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IdentityProvider{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

type passwordRealmRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Audience     string `json:"audience"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Realm        string `json:"realm"`
	Scope        string `json:"scope"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login returns the access token for username/password. A non-200 answer
// from the provider is reported as ErrBadCredentials.
func (p *IdentityProvider) Login(ctx context.Context, username, password string) (string, error) {
	if p.cfg.TokenURL == "" {
		return "", ErrNotConfigured
	}
	body, err := json.Marshal(passwordRealmRequest{
		GrantType:    passwordRealmGrant,
		Username:     username,
		Password:     password,
		Audience:     p.cfg.Audience,
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Realm:        p.cfg.Realm,
		Scope:        "openid profile email",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: provider status %d", ErrBadCredentials, resp.StatusCode)
	}
	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("token response without access_token")
	}
	return token.AccessToken, nil
}
