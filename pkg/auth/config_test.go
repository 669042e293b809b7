package auth

import (
	"net/http"
	"os"
	"testing"
	"time"
)

func TestNewConfigDefaultAuthType(t *testing.T) {
	os.Clearenv()
	config, err := NewConfig()
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	if config.AuthType != AuthTypeNone {
		t.Errorf("expected AuthType 'none', got '%s'", config.AuthType)
	}
}

func TestNewConfigUnknownAuthType(t *testing.T) {
	t.Setenv("AUTH_TYPE", "kerberos")
	if _, err := NewConfig(); err == nil {
		t.Errorf("expected error for unsupported AUTH_TYPE")
	}
}

func TestNewConfigJWTRequiresSecret(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_TYPE", "jwt")
	if _, err := NewConfig(); err == nil {
		t.Errorf("expected error without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "testjwtsecret")
	t.Setenv("ACCESS_TOKEN_EXPIRATION", "hours=1")
	config, err := NewConfig()
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	if string(config.JwtSecret) != "testjwtsecret" {
		t.Errorf("JwtSecret mismatch")
	}
	if config.AccessTokenExpiration != time.Hour {
		t.Errorf("expected 1h access token expiration, got %v", config.AccessTokenExpiration)
	}
	if len(config.Providers) != 0 {
		t.Errorf("jwt mode should not load providers")
	}
}

func TestNewConfigWithOAuth2(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_TYPE", "oauth2")
	t.Setenv("JWT_SECRET", "testjwtsecret")
	t.Setenv("OAUTH_PROVIDERS", "corp, github")
	t.Setenv("OAUTH_CORP_CLIENT_ID", "testclientid")
	t.Setenv("OAUTH_CORP_CLIENT_SECRET", "testclientsecret")
	t.Setenv("OAUTH_CORP_REDIRECT_URL", "http://localhost/auth/callback/corp")
	t.Setenv("OAUTH_CORP_AUTH_URL", "http://localhost/auth")
	t.Setenv("OAUTH_CORP_TOKEN_URL", "http://localhost/token")
	t.Setenv("OAUTH_CORP_USERINFO_URL", "http://localhost/userinfo")
	t.Setenv("OAUTH_CORP_SCOPES", "read")
	t.Setenv("OAUTH_CORP_ADDITIONAL_PARAMS", "prompt=consent")
	t.Setenv("OAUTH_GITHUB_CLIENT_ID", "ghclient")
	t.Setenv("REDIRECT_WHITELIST", "http://localhost:3000")

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	if config.AuthType != AuthTypeOAuth2 {
		t.Errorf("expected AuthType 'oauth2', got '%s'", config.AuthType)
	}
	if len(config.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(config.Providers))
	}

	corp := config.Providers["corp"].Config()
	if corp.ClientID != "testclientid" {
		t.Errorf("ClientID mismatch")
	}
	if !hasScope(corp.Scopes, "read") || !hasScope(corp.Scopes, "openid") {
		t.Errorf("expected custom and default scopes, got %v", corp.Scopes)
	}
	if corp.AdditionalParams["prompt"] != "consent" {
		t.Errorf("additional params not parsed")
	}
	if corp.OAuth2Config == nil || corp.OAuth2Config.Endpoint.TokenURL != "http://localhost/token" {
		t.Errorf("OAuth2Config not initialized")
	}

	github := config.Providers["github"].Config()
	if github.AuthURL != "https://github.com/login/oauth/authorize" {
		t.Errorf("github defaults not applied: %s", github.AuthURL)
	}
	if hasScope(github.Scopes, "openid") {
		t.Errorf("github should not get OIDC scopes")
	}
	if len(config.RedirectWhitelist) != 1 {
		t.Errorf("expected one whitelisted redirect")
	}
}

func TestNewConfigOAuth2Auth0Domain(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_TYPE", "oauth2")
	t.Setenv("JWT_SECRET", "testjwtsecret")
	t.Setenv("OAUTH_PROVIDERS", "tenant")
	t.Setenv("OAUTH_TENANT_DOMAIN", "detreg.eu.auth0.com")
	t.Setenv("OAUTH_TENANT_CLIENT_ID", "auth0client")

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	tenant := config.Providers["tenant"].Config()
	if tenant.Type != "auth0" {
		t.Errorf("expected auth0 type, got %q", tenant.Type)
	}
	if tenant.WellKnownJwksURL != "https://detreg.eu.auth0.com/.well-known/jwks.json" {
		t.Errorf("auth0 endpoints not derived from the domain: %s", tenant.WellKnownJwksURL)
	}
}

func TestNewConfigOAuth2IncompleteProvider(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_TYPE", "oauth2")
	t.Setenv("JWT_SECRET", "testjwtsecret")
	t.Setenv("OAUTH_PROVIDERS", "corp")
	t.Setenv("OAUTH_CORP_CLIENT_ID", "testclientid")
	if _, err := NewConfig(); err == nil {
		t.Errorf("expected error for a provider without endpoints")
	}
}

func TestNewConfigOAuth2WithoutProviders(t *testing.T) {
	os.Clearenv()
	t.Setenv("AUTH_TYPE", "oauth2")
	t.Setenv("JWT_SECRET", "testjwtsecret")
	if _, err := NewConfig(); err == nil {
		t.Errorf("expected error without OAUTH_PROVIDERS")
	}
}

func TestParseDurationString(t *testing.T) {
	duration, err := parseDurationString("minutes=15")
	if err != nil {
		t.Errorf("failed to parse duration: %v", err)
	}
	if duration != 15*time.Minute {
		t.Errorf("expected 15 minutes, got %v", duration)
	}

	duration, err = parseDurationString("hours=1, minutes=30")
	if err != nil {
		t.Errorf("failed to parse duration: %v", err)
	}
	if duration != 90*time.Minute {
		t.Errorf("expected 90 minutes, got %v", duration)
	}

	if _, err := parseDurationString("weeks=1"); err == nil {
		t.Errorf("expected error for unknown unit")
	}
}

func TestParseSameSite(t *testing.T) {
	sameSite, err := parseSameSite("lax")
	if err != nil {
		t.Errorf("failed to parse SameSite: %v", err)
	}
	if sameSite != http.SameSiteLaxMode {
		t.Errorf("expected SameSiteLaxMode, got %v", sameSite)
	}

	_, err = parseSameSite("invalid")
	if err == nil {
		t.Errorf("expected error for invalid SameSite value")
	}
}

func hasScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
