package auth

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/detreg/pkg/auth/providers"
	"golang.org/x/oauth2"
)

const (
	stateCookieName    = "oauth_state"
	redirectCookieName = "oauth_redirect"
)

// Handler holds the authentication handlers and dependencies.
type Handler struct {
	Config     *Config
	Database   Database
	Logger     *logrus.Logger
	Middleware *Middleware

	// Overridable for tests.
	getUserInfoFunc                  func(ctx context.Context, providerName, accessToken string) (*providers.ProviderUserInfo, error)
	exchangeProviderRefreshTokenFunc func(ctx context.Context, providerName, refreshToken string) (*oauth2.Token, error)
}

// NewHandler initializes a new authentication handler.
func NewHandler(config *Config, db Database, logger *logrus.Logger) *Handler {
	h := &Handler{
		Config:     config,
		Database:   db,
		Logger:     logger,
		Middleware: NewMiddleware(config, db, logger),
	}
	h.getUserInfoFunc = h.getUserInfo
	h.exchangeProviderRefreshTokenFunc = h.exchangeProviderRefreshToken
	return h
}

// AuthMiddleware returns the authentication middleware.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return h.Middleware.AuthMiddleware(next)
}

// HandlerProviders lists the configured login providers.
func (h *Handler) HandlerProviders(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.Config.Providers))
	for name := range h.Config.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		list = append(list, ProviderInfo{Name: name, LoginURL: "/auth/login/" + name})
	}
	WriteSuccessResponse(w, "Providers retrieved successfully", list)
}

// HandleLogin redirects the user to the provider's consent page.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]
	provider, ok := h.Config.Providers[providerName]
	if !ok {
		WriteErrorResponse(w, "Unknown provider", http.StatusNotFound)
		return
	}

	state, err := generateStateString()
	if err != nil {
		h.Logger.WithError(err).Error("Failed to generate state")
		WriteErrorResponse(w, "Failed to start login", http.StatusInternalServerError)
		return
	}
	setShortLivedCookie(w, stateCookieName, state, h.Config)

	if redirect := r.URL.Query().Get("redirect_uri"); redirect != "" {
		if !isRedirectAllowed(redirect, h.Config.RedirectWhitelist) {
			h.Logger.WithField("redirect_uri", redirect).Warn("Redirect URI not whitelisted")
			WriteErrorResponse(w, "Redirect URI not allowed", http.StatusBadRequest)
			return
		}
		setShortLivedCookie(w, redirectCookieName, redirect, h.Config)
	}

	var opts []oauth2.AuthCodeOption
	for k, v := range provider.Config().AdditionalParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	url := provider.OAuth2Config().AuthCodeURL(state, opts...)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// HandleCallback handles the OAuth2 callback and exchanges the code for tokens.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerName := mux.Vars(r)["provider"]
	provider, ok := h.Config.Providers[providerName]
	if !ok {
		WriteErrorResponse(w, "Unknown provider", http.StatusNotFound)
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		h.Logger.Warn("OAuth2 state mismatch")
		WriteErrorResponse(w, "Invalid state", http.StatusBadRequest)
		return
	}
	clearShortLivedCookie(w, stateCookieName, h.Config)

	// Extract the authorization code from the query parameters
	code := r.URL.Query().Get("code")
	if code == "" {
		WriteErrorResponse(w, "Code not found in the request", http.StatusBadRequest)
		return
	}

	// Exchange the code for tokens
	token, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		h.Logger.WithError(err).WithField("provider", providerName).Error("Token exchange failed")
		WriteErrorResponse(w, "Failed to exchange token", http.StatusInternalServerError)
		return
	}

	if token.RefreshToken == "" {
		h.Logger.WithField("provider", providerName).Debug("No refresh token received from the provider")
	}

	userInfo, err := provider.DecodeIDToken(ctx, token)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to decode ID token")
		WriteErrorResponse(w, "Failed to decode ID token", http.StatusInternalServerError)
		return
	}

	// Subjects are only unique within one provider.
	userInfo.Provider = providerName
	caller := userInfo.Caller()

	providerTokens := ProviderTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if err := h.Database.StoreProviderTokens(ctx, caller, providerName, providerTokens); err != nil {
		h.Logger.WithError(err).Error("Failed to store provider tokens")
		WriteErrorResponse(w, "Failed to store tokens", http.StatusInternalServerError)
		return
	}

	tokens, err := h.issueSession(ctx, jwt.MapClaims{
		"sub":      caller,
		"name":     userInfo.Name,
		"email":    userInfo.Email,
		"provider": providerName,
	})
	if err != nil {
		h.Logger.WithError(err).Error("Failed to issue session tokens")
		WriteErrorResponse(w, "Failed to generate tokens", http.StatusInternalServerError)
		return
	}
	setAuthCookies(w, tokens, h.Config)

	h.Logger.WithFields(logrus.Fields{
		"sub":      caller,
		"provider": providerName,
	}).Info("User logged in")

	if redirectCookie, err := r.Cookie(redirectCookieName); err == nil && redirectCookie.Value != "" {
		clearShortLivedCookie(w, redirectCookieName, h.Config)
		if isRedirectAllowed(redirectCookie.Value, h.Config.RedirectWhitelist) {
			http.Redirect(w, r, redirectCookie.Value, http.StatusFound)
			return
		}
	}

	WriteSuccessResponse(w, "Login successful", tokens)
}

// HandleStatus checks authentication status and returns user info.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	// Retrieve user claims from context (set by AuthMiddleware)
	claims, ok := ClaimsFromContext(r.Context())
	if !ok || claims == nil {
		WriteErrorResponseData(w, "Failed to retrieve user information", StatusResponse{
			Authenticated: false,
		}, http.StatusInternalServerError)
		return
	}

	user := UserInfo{}
	user.Sub, _ = claims["sub"].(string)
	user.Name, _ = claims["name"].(string)
	user.Email, _ = claims["email"].(string)
	user.Provider, _ = claims["provider"].(string)

	WriteSuccessResponse(w, "Authenticated", StatusResponse{
		Authenticated: true,
		User:          user,
	})
}

// HandleLogout logs the user out by removing the JWT cookie and blacklisting the token.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accessTokenString := extractToken(r, "access_token")
	refreshTokenString := extractToken(r, "refresh_token")

	// Revoke access token if present
	if accessTokenString != "" {
		err := h.Database.AddBlacklistedToken(ctx, accessTokenString, getTokenExpiration(accessTokenString))
		if err != nil {
			h.Logger.WithError(err).Error("Failed to blacklist access token during logout")
			WriteErrorResponse(w, "Failed to logout", http.StatusInternalServerError)
			return
		}
	}

	// Revoke refresh token if present
	if refreshTokenString != "" {
		if err := h.Database.RevokeRefreshToken(ctx, refreshTokenString); err != nil {
			h.Logger.WithError(err).Error("Failed to revoke refresh token during logout")
			WriteErrorResponse(w, "Failed to logout", http.StatusInternalServerError)
			return
		}
	}

	clearAuthCookies(w, h.Config)

	resp := LogoutResponse{Message: "Successfully logged out"}
	if claims, ok := ClaimsFromContext(ctx); ok {
		if providerName, _ := claims["provider"].(string); providerName != "" {
			if provider, ok := h.Config.Providers[providerName]; ok {
				resp.EndSessionURL = provider.Config().EndSessionURL
			}
		}
	}

	WriteSuccessResponse(w, "Successfully logged out", resp)
}

// HandleRefresh rotates the refresh token and issues a new access token.
// Sessions backed by a provider also renew the provider's access token.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	refreshTokenString := extractToken(r, "refresh_token")
	if refreshTokenString == "" {
		WriteErrorResponse(w, "Refresh token not found", http.StatusUnauthorized)
		return
	}

	// Validate application's refresh token locally
	userID, err := h.Database.ValidateRefreshToken(ctx, refreshTokenString)
	if err != nil {
		h.Logger.WithError(err).Debug("Refresh token rejected")
		WriteErrorResponse(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	claims, err := parseJWT(refreshTokenString, h.Config.JwtSecret)
	if err != nil {
		h.Logger.WithError(err).Error("Invalid refresh token")
		WriteErrorResponse(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}
	if typ, _ := claims["type"].(string); typ != tokenTypeRefresh {
		WriteErrorResponse(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}
	if sub, _ := claims["sub"].(string); sub != userID {
		h.Logger.WithField("sub", sub).Warn("Refresh token subject mismatch")
		WriteErrorResponse(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	newClaims := jwt.MapClaims{"sub": userID}

	if providerName, _ := claims["provider"].(string); providerName != "" {
		newClaims["provider"] = providerName

		providerTokens, err := h.Database.GetProviderTokens(ctx, userID, providerName)
		if err != nil {
			h.Logger.WithError(err).Error("Failed to retrieve provider tokens")
			WriteErrorResponse(w, "Failed to retrieve provider tokens", http.StatusInternalServerError)
			return
		}

		if providerTokens.RefreshToken != "" {
			// Exchange the provider's refresh token for a new access token
			newProviderTokens, err := h.exchangeProviderRefreshTokenFunc(ctx, providerName, providerTokens.RefreshToken)
			if err != nil {
				h.Logger.WithError(err).Warn("Provider refresh failed")
				h.revokeRefreshToken(ctx, refreshTokenString)
				WriteErrorResponse(w, "Unable to refresh session, please log in again", http.StatusUnauthorized)
				return
			}

			refreshToken := newProviderTokens.RefreshToken
			if refreshToken == "" {
				refreshToken = providerTokens.RefreshToken
			}
			providerTokens = ProviderTokens{
				AccessToken:  newProviderTokens.AccessToken,
				RefreshToken: refreshToken,
				ExpiresAt:    newProviderTokens.Expiry,
			}
			if err := h.Database.UpdateProviderTokens(ctx, userID, providerName, providerTokens); err != nil {
				h.Logger.WithError(err).Error("Failed to update provider tokens")
				WriteErrorResponse(w, "Failed to update provider tokens", http.StatusInternalServerError)
				return
			}
		}

		if !providerTokens.ExpiresAt.IsZero() && providerTokens.ExpiresAt.Before(time.Now()) {
			h.revokeRefreshToken(ctx, refreshTokenString)
			WriteErrorResponse(w, "oauth2 provider access_token expired", http.StatusUnauthorized)
			return
		}

		// Use the access token to get the user's info
		userInfo, err := h.getUserInfoFunc(ctx, providerName, providerTokens.AccessToken)
		if err != nil {
			h.Logger.WithError(err).Error("Failed to retrieve user info")
			WriteErrorResponse(w, "Failed to retrieve user info", http.StatusInternalServerError)
			return
		}
		newClaims["name"] = userInfo.Name
		newClaims["email"] = userInfo.Email
	}

	tokens, err := h.issueSession(ctx, newClaims)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to issue session tokens")
		WriteErrorResponse(w, "Failed to generate tokens", http.StatusInternalServerError)
		return
	}
	h.revokeRefreshToken(ctx, refreshTokenString)

	setAuthCookies(w, tokens, h.Config)
	WriteSuccessResponse(w, "Token refreshed", tokens)
}

// issueSession signs a token pair and records the refresh token.
func (h *Handler) issueSession(ctx context.Context, claims jwt.MapClaims) (*TokenResponse, error) {
	tokens, err := generateTokens(claims, h.Config)
	if err != nil {
		return nil, err
	}
	sub, _ := claims["sub"].(string)
	expiresAt := time.Now().Add(h.Config.RefreshTokenExpiration)
	if err := h.Database.StoreRefreshToken(ctx, tokens.RefreshToken, sub, expiresAt); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (h *Handler) revokeRefreshToken(ctx context.Context, token string) {
	if err := h.Database.RevokeRefreshToken(ctx, token); err != nil {
		h.Logger.WithError(err).Error("Failed to revoke refresh token")
	}
}

func (h *Handler) getUserInfo(ctx context.Context, providerName, accessToken string) (*providers.ProviderUserInfo, error) {
	provider, ok := h.Config.Providers[providerName]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return provider.FetchUserInfo(ctx, accessToken)
}

func (h *Handler) exchangeProviderRefreshToken(ctx context.Context, providerName, refreshToken string) (*oauth2.Token, error) {
	provider, ok := h.Config.Providers[providerName]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return provider.RenewAccessToken(ctx, refreshToken)
}
