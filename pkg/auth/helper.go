package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	tokenTypeBearer  = "bearer"
	tokenTypeRefresh = "refresh"
)

// generateStateString generates a random state string for CSRF protection.
func generateStateString() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("unable to generate state string: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// parseJWT parses and validates a JWT token string.
func parseJWT(tokenString string, secret []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Ensure token is signed with HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}

	return claims, nil
}

// generateTokens creates both access and refresh JWT tokens.
func generateTokens(claims jwt.MapClaims, config *Config) (*TokenResponse, error) {
	now := time.Now()

	// Define access token expiration using configuration
	accessExpirationTime := now.Add(config.AccessTokenExpiration)
	accessClaims := jwt.MapClaims{}
	for k, v := range claims {
		accessClaims[k] = v
	}
	accessClaims["exp"] = accessExpirationTime.Unix()
	accessClaims["iat"] = now.Unix()
	accessClaims["type"] = tokenTypeBearer

	// Create access token
	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessTokenString, err := accessToken.SignedString(config.JwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	// Define refresh token expiration using configuration
	refreshExpirationTime := now.Add(config.RefreshTokenExpiration)
	refreshClaims := jwt.MapClaims{
		"sub":      claims["sub"],
		"exp":      refreshExpirationTime.Unix(),
		"iat":      now.Unix(),
		"jti":      randomID(),
		"type":     tokenTypeRefresh,
		"provider": claims["provider"],
	}

	// Create refresh token
	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims)
	refreshTokenString, err := refreshToken.SignedString(config.JwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessTokenString,
		RefreshToken: refreshTokenString,
		TokenType:    "Bearer",
		ExpiresIn:    int64(config.AccessTokenExpiration.Seconds()),
	}, nil
}

// IssueToken signs a standalone access token for subject, valid for ttl.
// A zero ttl falls back to the configured access token expiration.
func IssueToken(config *Config, subject string, ttl time.Duration) (string, error) {
	if len(config.JwtSecret) == 0 {
		return "", fmt.Errorf("JWT secret is not configured")
	}
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if ttl <= 0 {
		ttl = config.AccessTokenExpiration
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"type": tokenTypeBearer,
	})
	return token.SignedString(config.JwtSecret)
}

// randomID returns a short random identifier so tokens minted in the same second differ.
func randomID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// getTokenExpiration extracts the expiration time from a token.
func getTokenExpiration(tokenString string) int64 {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return time.Now().Unix()
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		if exp, ok := claims["exp"].(float64); ok {
			return int64(exp)
		}
	}
	return time.Now().Unix()
}

// setAuthCookies sets the authentication tokens in HTTP cookies.
func setAuthCookies(w http.ResponseWriter, tokens *TokenResponse, config *Config) {
	// Define token expiration using configuration
	accessExpirationTime := time.Now().Add(config.AccessTokenExpiration)
	refreshExpirationTime := time.Now().Add(config.RefreshTokenExpiration)

	accessCookie := &http.Cookie{
		Name:     "access_token",
		Value:    tokens.AccessToken,
		Expires:  accessExpirationTime,
		HttpOnly: true,
		Secure:   config.SecureCookie,
		Path:     "/",
		SameSite: config.CookieSameSite,
	}

	// Set the access token cookie
	http.SetCookie(w, accessCookie)

	// Set the refresh token in a secure HttpOnly cookie
	refreshCookie := &http.Cookie{
		Name:     "refresh_token",
		Value:    tokens.RefreshToken,
		Expires:  refreshExpirationTime,
		HttpOnly: true,
		Secure:   config.SecureCookie,
		Path:     "/auth/refresh",
		SameSite: config.CookieSameSite,
	}
	http.SetCookie(w, refreshCookie)
}

// clearAuthCookies removes the authentication cookies.
func clearAuthCookies(w http.ResponseWriter, config *Config) {
	// Remove the access token cookie
	expiredAccessCookie := &http.Cookie{
		Name:     "access_token",
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.SecureCookie,
		Path:     "/",
		SameSite: config.CookieSameSite,
	}
	http.SetCookie(w, expiredAccessCookie)

	// Remove the refresh token cookie
	expiredRefreshCookie := &http.Cookie{
		Name:     "refresh_token",
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.SecureCookie,
		Path:     "/auth/refresh",
		SameSite: config.CookieSameSite,
	}
	http.SetCookie(w, expiredRefreshCookie)
}

// setShortLivedCookie stores a value for the duration of an OAuth2 round trip.
func setShortLivedCookie(w http.ResponseWriter, name, value string, config *Config) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   config.SecureCookie,
		Path:     "/auth",
		SameSite: http.SameSiteLaxMode,
	})
}

func clearShortLivedCookie(w http.ResponseWriter, name string, config *Config) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.SecureCookie,
		Path:     "/auth",
		SameSite: http.SameSiteLaxMode,
	})
}

// isRedirectAllowed reports whether target's origin is in the whitelist.
func isRedirectAllowed(target string, whitelist []string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	origin := u.Scheme + "://" + u.Host
	for _, allowed := range whitelist {
		if strings.EqualFold(strings.TrimRight(strings.TrimSpace(allowed), "/"), origin) {
			return true
		}
	}
	return false
}

// WriteJSONResponse writes a JSON response with the specified HTTP status and data.
func WriteJSONResponse(w http.ResponseWriter, httpStatus int, data *HttpResp) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// WriteSuccessResponse sends a successful JSON response.
func WriteSuccessResponse(w http.ResponseWriter, message string, data interface{}) {
	WriteJSONResponse(w,
		http.StatusOK,
		&HttpResp{Status: "success", Data: data, Message: message})
}

// WriteErrorResponse sends an error JSON response.
func WriteErrorResponse(w http.ResponseWriter, message string, httpStatus int) {
	WriteJSONResponse(w,
		httpStatus,
		&HttpResp{Status: "error", Data: nil, Message: message})
}

// WriteErrorResponseData sends an error JSON response with additional data.
func WriteErrorResponseData(w http.ResponseWriter, message string, data interface{}, httpStatus int) {
	WriteJSONResponse(w,
		httpStatus,
		&HttpResp{Status: "error", Data: data, Message: message})
}

// extractToken extracts a token from the request headers or cookies.
func extractToken(r *http.Request, tokenName string) string {
	// Check the Authorization header for a Bearer token
	if tokenName == "access_token" {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
				return parts[1]
			}
		}
	}

	// Check for token in the cookie
	cookie, err := r.Cookie(tokenName)
	if err == nil {
		return cookie.Value
	}

	return ""
}

// ClientIP retrieves the client's IP address from the request.
func ClientIP(r *http.Request) string {
	// Look for X-Forwarded-For header
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// X-Forwarded-For can have multiple IPs; the first one is usually the original client IP
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	// Fallback to RemoteAddr if X-Forwarded-For is not set
	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return clientIP
}
