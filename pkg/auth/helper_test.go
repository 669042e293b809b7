package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestGenerateTokens(t *testing.T) {
	config := &Config{
		JwtSecret:              []byte("testsecret"),
		AccessTokenExpiration:  15 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
	}

	claims := jwt.MapClaims{
		"sub":   "user123",
		"name":  "John Doe",
		"email": "john@example.com",
	}

	tokens, err := generateTokens(claims, config)
	if err != nil {
		t.Fatalf("failed to generate tokens: %v", err)
	}

	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Errorf("tokens should not be empty")
	}
	if _, ok := claims["exp"]; ok {
		t.Errorf("input claims should not be modified")
	}

	access, err := parseJWT(tokens.AccessToken, config.JwtSecret)
	if err != nil {
		t.Fatalf("access token should be valid: %v", err)
	}
	if access["type"] != tokenTypeBearer || access["sub"] != "user123" {
		t.Errorf("unexpected access claims: %v", access)
	}

	refresh, err := parseJWT(tokens.RefreshToken, config.JwtSecret)
	if err != nil {
		t.Fatalf("refresh token should be valid: %v", err)
	}
	if refresh["type"] != tokenTypeRefresh {
		t.Errorf("unexpected refresh claims: %v", refresh)
	}
}

func TestIssueToken(t *testing.T) {
	config := &Config{
		JwtSecret:             []byte("testsecret"),
		AccessTokenExpiration: 15 * time.Minute,
	}

	token, err := IssueToken(config, "0xreporter", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	claims, err := parseJWT(token, config.JwtSecret)
	if err != nil {
		t.Fatalf("issued token should be valid: %v", err)
	}
	if claims["sub"] != "0xreporter" {
		t.Errorf("expected sub 0xreporter, got %v", claims["sub"])
	}
	exp := int64(claims["exp"].(float64))
	if exp < time.Now().Add(59*time.Minute).Unix() {
		t.Errorf("ttl not applied")
	}

	if _, err := IssueToken(config, "", time.Hour); err == nil {
		t.Errorf("expected error for empty subject")
	}
	if _, err := IssueToken(&Config{}, "0xreporter", time.Hour); err == nil {
		t.Errorf("expected error without secret")
	}
}

func TestGetTokenExpiration(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user123", "exp": exp})
	tokenString, _ := token.SignedString([]byte("othersecret"))

	if got := getTokenExpiration(tokenString); got != exp {
		t.Errorf("expected %d, got %d", exp, got)
	}
}

func TestSetAuthCookies(t *testing.T) {
	w := httptest.NewRecorder()
	config := &Config{
		SecureCookie:           true,
		CookieSameSite:         http.SameSiteLaxMode,
		AccessTokenExpiration:  15 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
	}

	tokens := &TokenResponse{
		AccessToken:  "access_token_value",
		RefreshToken: "refresh_token_value",
	}

	setAuthCookies(w, tokens, config)

	cookies := w.Result().Cookies()
	if len(cookies) != 2 {
		t.Errorf("expected 2 cookies to be set")
	}

	for _, cookie := range cookies {
		if cookie.Name == "access_token" {
			if cookie.Value != "access_token_value" {
				t.Errorf("access_token cookie value mismatch")
			}
			if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteLaxMode {
				t.Errorf("access_token cookie attributes mismatch")
			}
		} else if cookie.Name == "refresh_token" {
			if cookie.Value != "refresh_token_value" {
				t.Errorf("refresh_token cookie value mismatch")
			}
			if !cookie.HttpOnly || !cookie.Secure || cookie.Path != "/auth/refresh" {
				t.Errorf("refresh_token cookie attributes mismatch")
			}
		} else {
			t.Errorf("unexpected cookie: %s", cookie.Name)
		}
	}
}

func TestClearAuthCookies(t *testing.T) {
	w := httptest.NewRecorder()
	config := &Config{
		SecureCookie:   true,
		CookieSameSite: http.SameSiteLaxMode,
	}

	clearAuthCookies(w, config)

	cookies := w.Result().Cookies()
	if len(cookies) != 2 {
		t.Errorf("expected 2 cookies to be cleared")
	}

	for _, cookie := range cookies {
		if cookie.Name == "access_token" || cookie.Name == "refresh_token" {
			if cookie.Value != "" || cookie.MaxAge != -1 {
				t.Errorf("cookie %s should be cleared", cookie.Name)
			}
		} else {
			t.Errorf("unexpected cookie: %s", cookie.Name)
		}
	}
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer access_token_value")
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh_token_value"})

	accessToken := extractToken(req, "access_token")
	refreshToken := extractToken(req, "refresh_token")

	if accessToken != "access_token_value" {
		t.Errorf("expected access_token_value, got %s", accessToken)
	}

	if refreshToken != "refresh_token_value" {
		t.Errorf("expected refresh_token_value, got %s", refreshToken)
	}
}

func TestIsRedirectAllowed(t *testing.T) {
	whitelist := []string{"http://localhost:3000", " https://registry.example.com/ "}

	cases := map[string]bool{
		"http://localhost:3000/dashboard":  true,
		"https://registry.example.com/app": true,
		"https://evil.example.com/":        false,
		"/relative":                        false,
		"http://localhost:3001/":           false,
	}
	for target, want := range cases {
		if got := isRedirectAllowed(target, whitelist); got != want {
			t.Errorf("isRedirectAllowed(%q) = %v, want %v", target, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if ip := ClientIP(req); ip != "10.0.0.1" {
		t.Errorf("expected 10.0.0.1, got %s", ip)
	}

	req.Header.Set("X-Forwarded-For", "192.168.1.5, 10.0.0.1")
	if ip := ClientIP(req); ip != "192.168.1.5" {
		t.Errorf("expected 192.168.1.5, got %s", ip)
	}
}
