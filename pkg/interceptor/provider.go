package interceptor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/milan604/netkit/pkg/errors"
)

// OAuth2ClientCredentialsProvider fetches tokens with the OAuth2 client credentials grant.
type OAuth2ClientCredentialsProvider struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	HTTPClient   *http.Client
}

// NewOAuth2ClientCredentialsProvider creates a client credentials provider.
func NewOAuth2ClientCredentialsProvider(tokenURL, clientID, clientSecret, scope string) *OAuth2ClientCredentialsProvider {
	return &OAuth2ClientCredentialsProvider{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        scope,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

type oauth2TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// FetchToken posts the grant to TokenURL.
func (p *OAuth2ClientCredentialsProvider) FetchToken(ctx context.Context) (string, time.Time, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", p.ClientID)
	data.Set("client_secret", p.ClientSecret)
	if p.Scope != "" {
		data.Set("scope", p.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "oauth2: build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "oauth2: fetch token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", time.Time{}, fmt.Errorf("oauth2: token request failed with status %d: %s", resp.StatusCode, body)
	}

	var tr oauth2TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, errors.Wrap(err, "oauth2: decode token response")
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, errors.New("oauth2: empty access token in response")
	}

	expiresAt := time.Now().Add(time.Hour)
	if tr.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tr.AccessToken, expiresAt, nil
}

// StaticTokenProvider returns the same token forever.
type StaticTokenProvider struct {
	Token string
}

// NewStaticTokenProvider creates a static token provider.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{Token: token}
}

// FetchToken returns the token with a one-year expiry.
func (p *StaticTokenProvider) FetchToken(context.Context) (string, time.Time, error) {
	return p.Token, time.Now().Add(24 * 365 * time.Hour), nil
}

// CustomTokenProvider adapts a function to TokenProvider.
type CustomTokenProvider struct {
	FetchFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// NewCustomTokenProvider creates a custom token provider.
func NewCustomTokenProvider(fetch func(ctx context.Context) (string, time.Time, error)) *CustomTokenProvider {
	return &CustomTokenProvider{FetchFunc: fetch}
}

// FetchToken calls FetchFunc.
func (p *CustomTokenProvider) FetchToken(ctx context.Context) (string, time.Time, error) {
	if p.FetchFunc == nil {
		return "", time.Time{}, errors.New("custom token provider: fetch function is nil")
	}
	return p.FetchFunc(ctx)
}
