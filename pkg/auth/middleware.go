package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	claimsContextKey contextKey = "user"
	callerContextKey contextKey = "caller"
)

// Middleware handles authentication for incoming HTTP requests.
type Middleware struct {
	Config   *Config
	Database Database
	Logger   *logrus.Logger
}

// NewMiddleware initializes a new authentication middleware.
func NewMiddleware(config *Config, db Database, logger *logrus.Logger) *Middleware {
	return &Middleware{
		Config:   config,
		Database: db,
		Logger:   logger,
	}
}

// AuthMiddleware is the HTTP middleware for authentication.
// With AUTH_TYPE none the caller is taken from the X-Registry-Caller header,
// otherwise from the sub claim of a valid access token.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Config.AuthType == AuthTypeNone {
			caller := r.Header.Get(CallerHeader)
			if caller == "" {
				m.Logger.WithField("remote", ClientIP(r)).Warn("Caller header not found")
				WriteErrorResponse(w, fmt.Sprintf("%s header is required", CallerHeader), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
			return
		}

		// Extract access token
		tokenString := extractToken(r, "access_token")
		if tokenString == "" {
			m.Logger.WithField("remote", ClientIP(r)).Warn("Authorization token not found")
			WriteErrorResponse(w, "Authorization token not found", http.StatusUnauthorized)
			return
		}

		// Check if the token is blacklisted using request context
		blacklisted, err := m.Database.IsTokenBlacklisted(r.Context(), tokenString)
		if err != nil {
			m.Logger.WithError(err).Error("Failed to check token blacklist")
			WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if blacklisted {
			m.Logger.Warn("Token has been revoked")
			WriteErrorResponse(w, "Token has been revoked", http.StatusUnauthorized)
			return
		}

		// Parse and validate the token
		claims, err := m.parseAndValidateToken(tokenString)
		if err != nil {
			m.Logger.WithError(err).Warn("Invalid token")
			WriteErrorResponse(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			m.Logger.Warn("Token has no subject")
			WriteErrorResponse(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		// Attach claims and caller to the request context
		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		ctx = WithCaller(ctx, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// parseAndValidateToken parses and validates a JWT token string.
func (m *Middleware) parseAndValidateToken(tokenString string) (jwt.MapClaims, error) {
	claims, err := parseJWT(tokenString, m.Config.JwtSecret)
	if err != nil {
		return nil, err
	}

	// Validate expiration
	if exp, ok := claims["exp"].(float64); !ok || float64(time.Now().Unix()) > exp {
		return nil, fmt.Errorf("token has expired")
	}

	// Refresh tokens are only accepted by the refresh endpoint
	if typ, _ := claims["type"].(string); typ == tokenTypeRefresh {
		return nil, fmt.Errorf("refresh token used as access token")
	}

	return claims, nil
}

// WithCaller returns a copy of ctx carrying the caller identity.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext returns the caller identity set by AuthMiddleware.
func CallerFromContext(ctx context.Context) (string, error) {
	caller, ok := ctx.Value(callerContextKey).(string)
	if !ok || caller == "" {
		return "", ErrMissingCaller
	}
	return caller, nil
}

// ClaimsFromContext returns the token claims set by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(jwt.MapClaims)
	return claims, ok
}
