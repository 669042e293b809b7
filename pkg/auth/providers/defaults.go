package providers

import (
	"fmt"
	"strings"
)

// oidcScopes are requested from every OpenID Connect provider.
var oidcScopes = []string{"openid", "profile", "email"}

// defaultConfigs holds the endpoints of the well known providers, keyed by type.
var defaultConfigs = map[string]ProviderConfig{
	TypeGoogle: {
		Type:             TypeGoogle,
		AuthURL:          "https://accounts.google.com/o/oauth2/auth",
		TokenURL:         "https://oauth2.googleapis.com/token",
		UserInfoURL:      "https://openidconnect.googleapis.com/v1/userinfo",
		WellKnownJwksURL: "https://www.googleapis.com/oauth2/v3/certs",
		EndSessionURL:    "https://accounts.google.com/logout",
		Scopes:           oidcScopes,
	},
	TypeGitHub: {
		Type:          TypeGitHub,
		AuthURL:       "https://github.com/login/oauth/authorize",
		TokenURL:      "https://github.com/login/oauth/access_token",
		UserInfoURL:   "https://api.github.com/user",
		EndSessionURL: "https://github.com/logout",
		Scopes:        []string{"read:user", "user:email"},
	},
}

// DefaultConfig returns the starting configuration for a provider named
// name. A provider named after a well known type gets that type's endpoints,
// anything else starts as a generic provider with no endpoints.
func DefaultConfig(name string) ProviderConfig {
	config, ok := defaultConfigs[strings.ToLower(name)]
	if !ok {
		config = ProviderConfig{Type: TypeGeneric}
	}
	config.Name = name
	config.Scopes = append([]string(nil), config.Scopes...)
	return config
}

// Auth0Config returns the endpoints of an Auth0 tenant.
func Auth0Config(name, domain string) ProviderConfig {
	base := "https://" + strings.TrimSuffix(domain, "/")
	return ProviderConfig{
		Name:             name,
		Type:             TypeAuth0,
		AuthURL:          base + "/authorize",
		TokenURL:         base + "/oauth/token",
		UserInfoURL:      base + "/userinfo",
		WellKnownJwksURL: base + "/.well-known/jwks.json",
		EndSessionURL:    base + "/v2/logout",
		Scopes:           append([]string(nil), oidcScopes...),
	}
}

// EnsureScopes appends the OpenID Connect scopes missing from the config.
// GitHub is plain OAuth2 and keeps its own scopes.
func (c *ProviderConfig) EnsureScopes() {
	if strings.EqualFold(c.Type, TypeGitHub) {
		return
	}
	for _, scope := range oidcScopes {
		if !containsFold(c.Scopes, scope) {
			c.Scopes = append(c.Scopes, scope)
		}
	}
}

// Validate checks that the endpoints needed for a login are set.
func (c *ProviderConfig) Validate() error {
	switch {
	case c.ClientID == "":
		return fmt.Errorf("provider %s: client id is not set", c.Name)
	case c.AuthURL == "" || c.TokenURL == "":
		return fmt.Errorf("provider %s: auth and token urls are required", c.Name)
	case c.UserInfoURL == "" && c.WellKnownJwksURL == "":
		return fmt.Errorf("provider %s: a userinfo or jwks url is required", c.Name)
	}
	return nil
}

func containsFold(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
