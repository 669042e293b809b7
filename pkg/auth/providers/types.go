package providers

import (
	"strings"

	"golang.org/x/oauth2"
)

// Provider types understood by NewProvider.
const (
	TypeGeneric = "generic"
	TypeGoogle  = "google"
	TypeGitHub  = "github"
	TypeAuth0   = "auth0"
)

// callerSeparator joins the provider name and the provider subject.
const callerSeparator = ":"

// ProviderUserInfo is the identity a provider returns after login.
type ProviderUserInfo struct {
	Sub        string `json:"sub"`      // subject, unique within the provider only
	Name       string `json:"name"`
	Email      string `json:"email"`
	Provider   string `json:"provider"` // configured provider name
	ProfileURL string `json:"profile_url,omitempty"`
	Picture    string `json:"picture,omitempty"`
}

// Caller returns the registry identity of the user, "<provider>:<sub>".
// Two providers may hand out the same subject, so the provider name is part
// of the identity.
func (u *ProviderUserInfo) Caller() string {
	return Caller(u.Provider, u.Sub)
}

// Caller builds the registry identity for a subject of the named provider.
func Caller(provider, sub string) string {
	return provider + callerSeparator + sub
}

// SplitCaller is the inverse of Caller.
func SplitCaller(caller string) (provider, sub string, ok bool) {
	provider, sub, ok = strings.Cut(caller, callerSeparator)
	if !ok || provider == "" || sub == "" {
		return "", "", false
	}
	return provider, sub, true
}

// ProviderConfig holds the OAuth2 configuration for a single provider.
type ProviderConfig struct {
	Name             string            // name used in routes, env keys and caller identities
	Type             string            // one of the Type constants
	ClientID         string
	ClientSecret     string
	RedirectURL      string
	AuthURL          string
	TokenURL         string
	UserInfoURL      string
	WellKnownJwksURL string // JWKS used to verify ID tokens
	EndSessionURL    string
	Scopes           []string
	AdditionalParams map[string]string // extra query parameters for the consent URL
	OAuth2Config     *oauth2.Config
}
