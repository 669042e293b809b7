package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// GoogleProvider logs users in with Google OpenID Connect.
type GoogleProvider struct {
	config *ProviderConfig
}

// NewGoogleProvider creates a new instance of GoogleProvider.
func NewGoogleProvider(config *ProviderConfig) *GoogleProvider {
	return &GoogleProvider{config: config}
}

func (p *GoogleProvider) Name() string                 { return p.config.Name }
func (p *GoogleProvider) OAuth2Config() *oauth2.Config { return p.config.OAuth2Config }
func (p *GoogleProvider) Config() *ProviderConfig      { return p.config }

// ExchangeCode exchanges the authorization code for an access token.
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return defaultExchangeCode(ctx, p, code)
}

// FetchUserInfo reads the OpenID userinfo endpoint. Google names the profile
// link "profile".
func (p *GoogleProvider) FetchUserInfo(ctx context.Context, accessToken string) (*ProviderUserInfo, error) {
	var googleUser struct {
		Sub        string `json:"sub"`
		Name       string `json:"name"`
		Email      string `json:"email"`
		Picture    string `json:"picture"`
		ProfileURL string `json:"profile"`
	}
	if err := defaultFetchUserInfo(ctx, p, accessToken, &googleUser); err != nil {
		return nil, err
	}

	return &ProviderUserInfo{
		Sub:        googleUser.Sub,
		Name:       googleUser.Name,
		Email:      googleUser.Email,
		Provider:   p.Name(),
		ProfileURL: googleUser.ProfileURL,
		Picture:    googleUser.Picture,
	}, nil
}

// DecodeIDToken verifies the ID token against Google's JWKS. Google always
// issues name and email with the default scopes.
func (p *GoogleProvider) DecodeIDToken(ctx context.Context, token *oauth2.Token) (*ProviderUserInfo, error) {
	return verifyIDToken(ctx, p, token, "name", "email")
}

// RenewAccessToken refreshes the access token using the refresh token.
func (p *GoogleProvider) RenewAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return defaultRenewAccessToken(ctx, p, refreshToken)
}
