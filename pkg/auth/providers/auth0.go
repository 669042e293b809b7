package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Auth0Provider logs users in against an Auth0 tenant, see Auth0Config.
type Auth0Provider struct {
	config *ProviderConfig
}

// NewAuth0Provider creates a new instance of Auth0Provider.
func NewAuth0Provider(config *ProviderConfig) *Auth0Provider {
	return &Auth0Provider{config: config}
}

func (p *Auth0Provider) Name() string                 { return p.config.Name }
func (p *Auth0Provider) Config() *ProviderConfig      { return p.config }
func (p *Auth0Provider) OAuth2Config() *oauth2.Config { return p.config.OAuth2Config }

// ExchangeCode exchanges the authorization code for an access token.
func (p *Auth0Provider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return defaultExchangeCode(ctx, p, code)
}

// FetchUserInfo reads the tenant userinfo endpoint. Auth0 has no profile URL.
func (p *Auth0Provider) FetchUserInfo(ctx context.Context, accessToken string) (*ProviderUserInfo, error) {
	var auth0User struct {
		Sub     string `json:"sub"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := defaultFetchUserInfo(ctx, p, accessToken, &auth0User); err != nil {
		return nil, err
	}

	return &ProviderUserInfo{
		Sub:      auth0User.Sub,
		Name:     auth0User.Name,
		Email:    auth0User.Email,
		Provider: p.Name(),
		Picture:  auth0User.Picture,
	}, nil
}

// DecodeIDToken verifies the ID token against the tenant JWKS. Machine users
// carry no email, so only the name is required besides the subject.
func (p *Auth0Provider) DecodeIDToken(ctx context.Context, token *oauth2.Token) (*ProviderUserInfo, error) {
	return verifyIDToken(ctx, p, token, "name")
}

// RenewAccessToken refreshes the access token using the refresh token.
func (p *Auth0Provider) RenewAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return defaultRenewAccessToken(ctx, p, refreshToken)
}
