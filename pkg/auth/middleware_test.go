package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Helper function to create a new Middleware with a mock database
func newTestMiddleware(authType string) (*Middleware, *MockDatabase) {
	config := &Config{
		AuthType:  authType,
		JwtSecret: []byte("testsecret"),
	}
	db := NewMockDatabase()

	testLogger := logrus.New()
	testLogger.SetOutput(&bytes.Buffer{}) // Discard output during tests
	testLogger.SetLevel(logrus.DebugLevel)

	return NewMiddleware(config, db, testLogger), db
}

func signTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return tokenString
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	middleware, _ := newTestMiddleware(AuthTypeJWT)

	tokenString := signTestToken(t, middleware.Config.JwtSecret, jwt.MapClaims{
		"sub": "user123",
		"exp": time.Now().Add(15 * time.Minute).Unix(),
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || claims["sub"] != "user123" {
			t.Errorf("user claims not found in context")
		}
		caller, err := CallerFromContext(r.Context())
		if err != nil || caller != "user123" {
			t.Errorf("expected caller user123, got %q (%v)", caller, err)
		}
		w.WriteHeader(http.StatusOK)
	})

	middleware.AuthMiddleware(nextHandler).ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestAuthMiddlewareCookieToken(t *testing.T) {
	middleware, _ := newTestMiddleware(AuthTypeOAuth2)

	tokenString := signTestToken(t, middleware.Config.JwtSecret, jwt.MapClaims{
		"sub": "user123",
		"exp": time.Now().Add(15 * time.Minute).Unix(),
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: tokenString})
	w := httptest.NewRecorder()

	called := false
	middleware.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(w, req)

	if !called {
		t.Errorf("handler should be called with a cookie token")
	}
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	middleware, _ := newTestMiddleware(AuthTypeJWT)

	tokenString := signTestToken(t, middleware.Config.JwtSecret, jwt.MapClaims{
		"sub": "user123",
		"exp": time.Now().Add(-15 * time.Minute).Unix(),
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()

	middleware.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with expired token")
	})).ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", resp.StatusCode)
	}
}

func TestAuthMiddlewareRefreshTokenRejected(t *testing.T) {
	middleware, _ := newTestMiddleware(AuthTypeJWT)

	tokenString := signTestToken(t, middleware.Config.JwtSecret, jwt.MapClaims{
		"sub":  "user123",
		"type": tokenTypeRefresh,
		"exp":  time.Now().Add(15 * time.Minute).Unix(),
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()

	middleware.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with a refresh token")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareBlacklistedToken(t *testing.T) {
	middleware, db := newTestMiddleware(AuthTypeJWT)

	tokenString := signTestToken(t, middleware.Config.JwtSecret, jwt.MapClaims{
		"sub": "user123",
		"exp": time.Now().Add(15 * time.Minute).Unix(),
	})
	_ = db.AddBlacklistedToken(context.Background(), tokenString, time.Now().Add(time.Hour).Unix())

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()

	middleware.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with a revoked token")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	middleware, _ := newTestMiddleware(AuthTypeJWT)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer invalidtoken")
	w := httptest.NewRecorder()

	middleware.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with invalid token")
	})).ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", resp.StatusCode)
	}
}

func TestAuthMiddlewareNoToken(t *testing.T) {
	middleware, _ := newTestMiddleware(AuthTypeJWT)

	req := httptest.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()

	middleware.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without token")
	})).ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", resp.StatusCode)
	}
}

func TestAuthMiddlewareCallerHeader(t *testing.T) {
	middleware, _ := newTestMiddleware(AuthTypeNone)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set(CallerHeader, "0xreporter")
	w := httptest.NewRecorder()

	middleware.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := CallerFromContext(r.Context())
		if err != nil || caller != "0xreporter" {
			t.Errorf("expected caller 0xreporter, got %q (%v)", caller, err)
		}
	})).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/protected", nil)
	w = httptest.NewRecorder()
	middleware.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without caller header")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestCallerFromContextMissing(t *testing.T) {
	if _, err := CallerFromContext(context.Background()); err != ErrMissingCaller {
		t.Errorf("expected ErrMissingCaller, got %v", err)
	}
}
