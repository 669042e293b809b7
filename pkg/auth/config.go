package auth

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/y0ug/detreg/pkg/auth/providers"
	"golang.org/x/oauth2"
)

const (
	AuthTypeNone   = "none"
	AuthTypeJWT    = "jwt"
	AuthTypeOAuth2 = "oauth2"

	// CallerHeader carries the caller identity when AUTH_TYPE is none.
	CallerHeader = "X-Registry-Caller"
)

// Config holds the authentication configuration.
type Config struct {
	AuthType               string
	JwtSecret              []byte
	AccessTokenExpiration  time.Duration
	RefreshTokenExpiration time.Duration
	SecureCookie           bool
	CookieSameSite         http.SameSite
	RedirectWhitelist      []string
	Providers              map[string]providers.Provider
}

// NewConfig initializes the authentication configuration from environment variables.
func NewConfig() (*Config, error) {
	authConfig := &Config{
		Providers:              make(map[string]providers.Provider),
		AccessTokenExpiration:  15 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
		CookieSameSite:         http.SameSiteLaxMode,
	}

	// Load AuthType with default
	authConfig.AuthType = strings.ToLower(getEnv("AUTH_TYPE", AuthTypeNone))
	switch authConfig.AuthType {
	case AuthTypeNone, AuthTypeJWT, AuthTypeOAuth2:
	default:
		return nil, fmt.Errorf("unsupported AUTH_TYPE: %s", authConfig.AuthType)
	}

	if authConfig.AuthType != AuthTypeNone {
		// Load common configurations
		jwtSecret, err := getEnvBytes("JWT_SECRET")
		if err != nil {
			return nil, fmt.Errorf("error loading JWT_SECRET: %w", err)
		}
		authConfig.JwtSecret = jwtSecret

		authConfig.AccessTokenExpiration, err = parseDurationString(getEnv("ACCESS_TOKEN_EXPIRATION", "minutes=15"))
		if err != nil {
			return nil, fmt.Errorf("error parsing ACCESS_TOKEN_EXPIRATION: %w", err)
		}

		authConfig.RefreshTokenExpiration, err = parseDurationString(getEnv("REFRESH_TOKEN_EXPIRATION", "hours=24"))
		if err != nil {
			return nil, fmt.Errorf("error parsing REFRESH_TOKEN_EXPIRATION: %w", err)
		}

		authConfig.SecureCookie, err = strconv.ParseBool(getEnv("SECURE_COOKIE", "false"))
		if err != nil {
			return nil, fmt.Errorf("error parsing SECURE_COOKIE: %w", err)
		}

		authConfig.CookieSameSite, err = parseSameSite(getEnv("COOKIE_SAMESITE", "lax"))
		if err != nil {
			return nil, fmt.Errorf("error parsing COOKIE_SAMESITE: %w", err)
		}

		redirectWhitelistStr := getEnv("REDIRECT_WHITELIST", "")
		if redirectWhitelistStr != "" {
			authConfig.RedirectWhitelist = strings.Split(redirectWhitelistStr, ",")
		}
	}
	if authConfig.AuthType == AuthTypeOAuth2 {

		// Load multiple providers
		providersEnv := getEnv("OAUTH_PROVIDERS", "")
		if providersEnv == "" {
			return nil, fmt.Errorf("OAUTH_PROVIDERS is not set")
		}
		providerNames := strings.Split(providersEnv, ",")

		for _, providerName := range providerNames {
			providerName = strings.TrimSpace(providerName)
			if providerName == "" {
				continue
			}

			providerConfig, err := loadProviderConfig(providerName)
			if err != nil {
				return nil, fmt.Errorf("error loading config for provider '%s': %w", providerName, err)
			}

			providerConfig.EnsureScopes()
			if err := providerConfig.Validate(); err != nil {
				return nil, err
			}

			// Initialize OAuth2 config
			err = initializeOAuth2Config(providerConfig)
			if err != nil {
				return nil, fmt.Errorf("error initializing OAuth2 config for provider '%s': %w", providerName, err)
			}

			authConfig.Providers[providerName] = providers.NewProvider(providerConfig)
		}
		if len(authConfig.Providers) == 0 {
			return nil, fmt.Errorf("OAUTH_PROVIDERS does not name any provider")
		}
	}

	return authConfig, nil
}

// loadProviderConfig loads the configuration for a single OAuth2 provider.
func loadProviderConfig(providerName string) (*providers.ProviderConfig, error) {
	prefix := fmt.Sprintf("OAUTH_%s_", strings.ToUpper(providerName))

	// Start with the well known endpoints for the name or the auth0 domain
	providerConfig := providers.DefaultConfig(providerName)
	if domain := getEnv(prefix+"DOMAIN", ""); domain != "" {
		providerConfig = providers.Auth0Config(providerName, domain)
	}

	// Overwrite with environment variables
	providerConfig.Type = getEnv(prefix+"TYPE", providerConfig.Type)
	providerConfig.ClientID = getEnv(prefix+"CLIENT_ID", providerConfig.ClientID)
	providerConfig.ClientSecret = getEnv(prefix+"CLIENT_SECRET", providerConfig.ClientSecret)
	providerConfig.RedirectURL = getEnv(prefix+"REDIRECT_URL", providerConfig.RedirectURL)
	providerConfig.AuthURL = getEnv(prefix+"AUTH_URL", providerConfig.AuthURL)
	providerConfig.TokenURL = getEnv(prefix+"TOKEN_URL", providerConfig.TokenURL)
	providerConfig.UserInfoURL = getEnv(prefix+"USERINFO_URL", providerConfig.UserInfoURL)
	providerConfig.WellKnownJwksURL = getEnv(prefix+"JWKS_URL", providerConfig.WellKnownJwksURL)
	providerConfig.EndSessionURL = getEnv(prefix+"END_SESSION_URL", providerConfig.EndSessionURL)

	var scopes []string
	for _, scope := range strings.Split(getEnv(prefix+"SCOPES", strings.Join(providerConfig.Scopes, ",")), ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	providerConfig.Scopes = scopes

	additionalParams := parseAdditionalParams(getEnv(prefix+"ADDITIONAL_PARAMS", ""))
	providerConfig.AdditionalParams = additionalParams

	return &providerConfig, nil
}

// initializeOAuth2Config sets up the OAuth2 configuration for a provider.
func initializeOAuth2Config(providerConfig *providers.ProviderConfig) error {
	providerConfig.OAuth2Config = &oauth2.Config{
		ClientID:     providerConfig.ClientID,
		ClientSecret: providerConfig.ClientSecret,
		RedirectURL:  providerConfig.RedirectURL,
		Scopes:       providerConfig.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  providerConfig.AuthURL,
			TokenURL: providerConfig.TokenURL,
		},
	}

	if len(providerConfig.AdditionalParams) > 0 {
		providerConfig.OAuth2Config.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	return nil
}

// getEnv retrieves the value of the environment variable named by the key.
// It returns the value, or the defaultValue if the variable is not present.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvBytes retrieves the byte slice value of the environment variable named by the key.
// It returns the byte slice, or an error if the variable is not set.
func getEnvBytes(key string) ([]byte, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return nil, fmt.Errorf("environment variable %s not set", key)
	}
	return []byte(value), nil
}

func parseAdditionalParams(s string) map[string]string {
	params := make(map[string]string)
	if s == "" {
		return params
	}
	pairs := strings.Split(s, ",")
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])
			params[key] = value
		}
	}
	return params
}

// parseDurationString parses a duration string formatted as "minutes=1, hours=2, days=3, seconds=30"
func parseDurationString(s string) (time.Duration, error) {
	parts := strings.Split(s, ",")
	var totalDuration time.Duration

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyValue := strings.SplitN(part, "=", 2)
		if len(keyValue) != 2 {
			return 0, fmt.Errorf("invalid format for part: '%s'", part)
		}
		key := strings.ToLower(strings.TrimSpace(keyValue[0]))
		valueStr := strings.TrimSpace(keyValue[1])
		value, err := strconv.Atoi(valueStr)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: '%s'", key, valueStr)
		}

		switch key {
		case "minutes":
			totalDuration += time.Duration(value) * time.Minute
		case "hours":
			totalDuration += time.Duration(value) * time.Hour
		case "days":
			totalDuration += time.Duration(value) * 24 * time.Hour
		case "seconds":
			totalDuration += time.Duration(value) * time.Second
		default:
			return 0, fmt.Errorf("unknown time unit: '%s'", key)
		}
	}

	return totalDuration, nil
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(s) {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return http.SameSiteDefaultMode, fmt.Errorf("invalid SameSite value: '%s'", s)
	}
}
