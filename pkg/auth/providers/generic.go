package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// GenericProvider talks to any OpenID Connect compatible provider.
type GenericProvider struct {
	config *ProviderConfig
}

// NewGenericProvider creates a new instance of GenericProvider.
func NewGenericProvider(config *ProviderConfig) *GenericProvider {
	return &GenericProvider{config: config}
}

// Name returns the name of the provider.
func (p *GenericProvider) Name() string {
	return p.config.Name
}

// Config returns the provider configuration.
func (p *GenericProvider) Config() *ProviderConfig {
	return p.config
}

// OAuth2Config returns the OAuth2 configuration.
func (p *GenericProvider) OAuth2Config() *oauth2.Config {
	return p.config.OAuth2Config
}

// ExchangeCode exchanges the authorization code for an access token.
func (p *GenericProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return defaultExchangeCode(ctx, p, code)
}

// FetchUserInfo decodes the standard OpenID userinfo response.
func (p *GenericProvider) FetchUserInfo(ctx context.Context, accessToken string) (*ProviderUserInfo, error) {
	userInfo := ProviderUserInfo{}

	err := defaultFetchUserInfo(ctx, p, accessToken, &userInfo)
	if err != nil {
		return nil, err
	}

	userInfo.Provider = p.Name()
	return &userInfo, nil
}

// DecodeIDToken verifies the ID token when a JWKS URL is configured.
// Providers without one fall back to the userinfo endpoint.
func (p *GenericProvider) DecodeIDToken(ctx context.Context, token *oauth2.Token) (*ProviderUserInfo, error) {
	if _, err := rawIDToken(token); err != nil || p.config.WellKnownJwksURL == "" {
		return p.FetchUserInfo(ctx, token.AccessToken)
	}
	return verifyIDToken(ctx, p, token)
}

// RenewAccessToken refreshes the access token using the refresh token.
func (p *GenericProvider) RenewAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return defaultRenewAccessToken(ctx, p, refreshToken)
}
