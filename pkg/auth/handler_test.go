package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/detreg/pkg/auth/providers"
	"golang.org/x/oauth2"
)

// MockDatabase is a mock implementation of the Database interface for testing.
type MockDatabase struct {
	RefreshTokens      map[string]string
	BlacklistedTokens  map[string]int64
	ProviderTokensData map[string]map[string]ProviderTokens // userID -> provider -> tokens
}

func NewMockDatabase() *MockDatabase {
	return &MockDatabase{
		RefreshTokens:      make(map[string]string),
		BlacklistedTokens:  make(map[string]int64),
		ProviderTokensData: make(map[string]map[string]ProviderTokens),
	}
}

func (db *MockDatabase) StoreRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	db.RefreshTokens[token] = userID
	return nil
}

func (db *MockDatabase) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	userID, exists := db.RefreshTokens[token]
	if !exists {
		return "", ErrInvalidToken
	}
	return userID, nil
}

func (db *MockDatabase) AddBlacklistedToken(ctx context.Context, token string, expiresAt int64) error {
	db.BlacklistedTokens[token] = expiresAt
	return nil
}

func (db *MockDatabase) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	_, exists := db.BlacklistedTokens[token]
	return exists, nil
}

func (db *MockDatabase) RevokeRefreshToken(ctx context.Context, token string) error {
	delete(db.RefreshTokens, token)
	return nil
}

func (db *MockDatabase) StoreProviderTokens(ctx context.Context, userID, provider string, tokens ProviderTokens) error {
	if _, exists := db.ProviderTokensData[userID]; !exists {
		db.ProviderTokensData[userID] = make(map[string]ProviderTokens)
	}
	db.ProviderTokensData[userID][provider] = tokens
	return nil
}

func (db *MockDatabase) GetProviderTokens(ctx context.Context, userID, provider string) (ProviderTokens, error) {
	providers, exists := db.ProviderTokensData[userID]
	if !exists {
		return ProviderTokens{}, ErrTokenNotFound
	}
	tokens, exists := providers[provider]
	if !exists {
		return ProviderTokens{}, ErrTokenNotFound
	}
	return tokens, nil
}

func (db *MockDatabase) UpdateProviderTokens(ctx context.Context, userID string, provider string, tokens ProviderTokens) error {
	return db.StoreProviderTokens(ctx, userID, provider, tokens)
}

// fakeProvider answers every provider call locally.
type fakeProvider struct {
	config *providers.ProviderConfig
	token  *oauth2.Token
	user   *providers.ProviderUserInfo
}

func (p *fakeProvider) Name() string                      { return p.config.Name }
func (p *fakeProvider) Config() *providers.ProviderConfig { return p.config }
func (p *fakeProvider) OAuth2Config() *oauth2.Config      { return p.config.OAuth2Config }
func (p *fakeProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.token, nil
}
func (p *fakeProvider) FetchUserInfo(ctx context.Context, accessToken string) (*providers.ProviderUserInfo, error) {
	return p.user, nil
}
func (p *fakeProvider) DecodeIDToken(ctx context.Context, token *oauth2.Token) (*providers.ProviderUserInfo, error) {
	return p.user, nil
}
func (p *fakeProvider) RenewAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return p.token, nil
}

// Helper function to create a new Handler with a mock database
func newTestHandler() (*Handler, *MockDatabase) {
	providerConfig := &providers.ProviderConfig{
		Name:          "testprovider",
		Type:          "generic",
		ClientID:      "testclientid",
		ClientSecret:  "testclientsecret",
		RedirectURL:   "http://localhost/auth/callback/testprovider",
		AuthURL:       "http://localhost/authorize",
		TokenURL:      "http://localhost/token",
		UserInfoURL:   "http://localhost/userinfo",
		EndSessionURL: "http://localhost/logout",
		Scopes:        []string{"openid", "profile", "email"},
		AdditionalParams: map[string]string{
			"prompt": "consent",
		},
		OAuth2Config: &oauth2.Config{
			ClientID:     "testclientid",
			ClientSecret: "testclientsecret",
			RedirectURL:  "http://localhost/auth/callback/testprovider",
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "http://localhost/authorize",
				TokenURL: "http://localhost/token",
			},
		},
	}

	config := &Config{
		AuthType:               AuthTypeOAuth2,
		JwtSecret:              []byte("testsecret"),
		AccessTokenExpiration:  15 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
		SecureCookie:           false,
		CookieSameSite:         http.SameSiteLaxMode,
		RedirectWhitelist:      []string{"http://localhost:3000"},
		Providers: map[string]providers.Provider{
			"testprovider": &fakeProvider{
				config: providerConfig,
				token: &oauth2.Token{
					AccessToken:  "provideraccesstoken",
					RefreshToken: "providerrefreshtoken",
					Expiry:       time.Now().Add(time.Hour),
				},
				user: &providers.ProviderUserInfo{
					Sub:      "user123",
					Name:     "John Doe",
					Email:    "john@example.com",
					Provider: "testprovider",
				},
			},
		},
	}

	db := NewMockDatabase()

	testLogger := logrus.New()
	testLogger.SetOutput(&bytes.Buffer{}) // Discard output during tests
	testLogger.SetLevel(logrus.DebugLevel)

	return NewHandler(config, db, testLogger), db
}

func decodeResp(t *testing.T, w *httptest.ResponseRecorder, data interface{}) HttpResp {
	t.Helper()
	resp := HttpResp{Data: data}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHandlerProviders(t *testing.T) {
	handler, _ := newTestHandler()

	w := httptest.NewRecorder()
	handler.HandlerProviders(w, httptest.NewRequest("GET", "/auth/providers", nil))

	var list []ProviderInfo
	resp := decodeResp(t, w, &list)
	if resp.Status != "success" {
		t.Errorf("expected success, got %s", resp.Status)
	}
	if len(list) != 1 || list[0].Name != "testprovider" || list[0].LoginURL != "/auth/login/testprovider" {
		t.Errorf("unexpected providers: %+v", list)
	}
}

func TestHandleLogin(t *testing.T) {
	handler, _ := newTestHandler()

	req := httptest.NewRequest("GET", "/auth/login/testprovider?redirect_uri=http://localhost:3000/app", nil)
	req = mux.SetURLVars(req, map[string]string{"provider": "testprovider"})
	w := httptest.NewRecorder()

	handler.HandleLogin(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected status 307, got %d", w.Code)
	}

	location, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect location: %v", err)
	}
	if location.Query().Get("prompt") != "consent" {
		t.Errorf("additional params not forwarded: %s", location)
	}

	var state, redirect string
	for _, c := range w.Result().Cookies() {
		switch c.Name {
		case stateCookieName:
			state = c.Value
		case redirectCookieName:
			redirect = c.Value
		}
	}
	if state == "" || location.Query().Get("state") != state {
		t.Errorf("state cookie does not match redirect state")
	}
	if redirect != "http://localhost:3000/app" {
		t.Errorf("redirect cookie not set, got %q", redirect)
	}
}

func TestHandleLoginRejects(t *testing.T) {
	handler, _ := newTestHandler()

	req := httptest.NewRequest("GET", "/auth/login/unknown", nil)
	req = mux.SetURLVars(req, map[string]string{"provider": "unknown"})
	w := httptest.NewRecorder()
	handler.HandleLogin(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown provider, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/auth/login/testprovider?redirect_uri=https://evil.example.com", nil)
	req = mux.SetURLVars(req, map[string]string{"provider": "testprovider"})
	w = httptest.NewRecorder()
	handler.HandleLogin(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for non-whitelisted redirect, got %d", w.Code)
	}
}

func TestHandleCallback(t *testing.T) {
	handler, db := newTestHandler()

	req := httptest.NewRequest("GET", "/auth/callback/testprovider?state=xyz&code=abc", nil)
	req = mux.SetURLVars(req, map[string]string{"provider": "testprovider"})
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "xyz"})
	w := httptest.NewRecorder()

	handler.HandleCallback(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var tokens TokenResponse
	decodeResp(t, w, &tokens)
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("tokens should be returned")
	}

	claims, err := parseJWT(tokens.AccessToken, handler.Config.JwtSecret)
	if err != nil {
		t.Fatalf("access token should be valid: %v", err)
	}
	if claims["sub"] != "testprovider:user123" || claims["provider"] != "testprovider" {
		t.Errorf("unexpected claims: %v", claims)
	}

	if db.RefreshTokens[tokens.RefreshToken] != "testprovider:user123" {
		t.Errorf("refresh token should be stored for testprovider:user123")
	}
	if db.ProviderTokensData["testprovider:user123"]["testprovider"].AccessToken != "provideraccesstoken" {
		t.Errorf("provider tokens should be stored")
	}
}

func TestHandleCallbackScopesSubjectByProvider(t *testing.T) {
	handler, db := newTestHandler()
	testProvider := handler.Config.Providers["testprovider"].(*fakeProvider)
	handler.Config.Providers["github"] = &fakeProvider{
		config: &providers.ProviderConfig{Name: "github", Type: "github"},
		token:  &oauth2.Token{AccessToken: "githubaccesstoken"},
		user:   &providers.ProviderUserInfo{Sub: testProvider.user.Sub, Name: "Mallory", Provider: "github"},
	}

	subjects := make(map[string]string)
	refreshTokens := make(map[string]string)
	for _, name := range []string{"testprovider", "github"} {
		req := httptest.NewRequest("GET", "/auth/callback/"+name+"?state=xyz&code=abc", nil)
		req = mux.SetURLVars(req, map[string]string{"provider": name})
		req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "xyz"})
		w := httptest.NewRecorder()

		handler.HandleCallback(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d: %s", name, w.Code, w.Body.String())
		}

		var tokens TokenResponse
		decodeResp(t, w, &tokens)
		claims, err := parseJWT(tokens.AccessToken, handler.Config.JwtSecret)
		if err != nil {
			t.Fatalf("%s: access token should be valid: %v", name, err)
		}
		subjects[name], _ = claims["sub"].(string)
		refreshTokens[name] = tokens.RefreshToken
	}

	if subjects["testprovider"] != "testprovider:user123" || subjects["github"] != "github:user123" {
		t.Errorf("same provider subject must map to distinct callers, got %v", subjects)
	}
	if _, ok := db.ProviderTokensData["github:user123"]["github"]; !ok {
		t.Errorf("github tokens should be stored under the github caller")
	}
	if _, ok := db.ProviderTokensData["testprovider:user123"]["github"]; ok {
		t.Errorf("github tokens must not be attached to the testprovider caller")
	}

	// A refreshed session keeps the provider-scoped caller.
	req := httptest.NewRequest("POST", "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshTokens["github"]})
	w := httptest.NewRecorder()
	handler.HandleRefresh(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var refreshed TokenResponse
	decodeResp(t, w, &refreshed)
	claims, err := parseJWT(refreshed.AccessToken, handler.Config.JwtSecret)
	if err != nil {
		t.Fatalf("refreshed access token should be valid: %v", err)
	}
	if claims["sub"] != "github:user123" {
		t.Errorf("refresh changed the caller to %v", claims["sub"])
	}
}

func TestHandleCallbackRedirect(t *testing.T) {
	handler, _ := newTestHandler()

	req := httptest.NewRequest("GET", "/auth/callback/testprovider?state=xyz&code=abc", nil)
	req = mux.SetURLVars(req, map[string]string{"provider": "testprovider"})
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "xyz"})
	req.AddCookie(&http.Cookie{Name: redirectCookieName, Value: "http://localhost:3000/app"})
	w := httptest.NewRecorder()

	handler.HandleCallback(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", w.Code)
	}
	if w.Header().Get("Location") != "http://localhost:3000/app" {
		t.Errorf("unexpected redirect: %s", w.Header().Get("Location"))
	}
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	handler, db := newTestHandler()

	req := httptest.NewRequest("GET", "/auth/callback/testprovider?state=forged&code=abc", nil)
	req = mux.SetURLVars(req, map[string]string{"provider": "testprovider"})
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "xyz"})
	w := httptest.NewRecorder()

	handler.HandleCallback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if len(db.RefreshTokens) != 0 {
		t.Errorf("no session should be created")
	}
}

func TestHandleStatusUnauthenticated(t *testing.T) {
	handler, _ := newTestHandler()

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()

	handler.HandleStatus(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}
}

func TestHandleStatusAuthenticated(t *testing.T) {
	handler, _ := newTestHandler()

	// Create a context with user claims
	claims := jwt.MapClaims{
		"sub":      "user123",
		"name":     "John Doe",
		"email":    "john@example.com",
		"provider": "testprovider",
	}
	ctx := context.WithValue(context.Background(), claimsContextKey, claims)

	req := httptest.NewRequest("GET", "/status", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	handler.HandleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var status StatusResponse
	decodeResp(t, w, &status)
	if !status.Authenticated || status.User.Sub != "user123" || status.User.Provider != "testprovider" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestHandleLogout(t *testing.T) {
	handler, db := newTestHandler()

	accessToken := signTestToken(t, handler.Config.JwtSecret, jwt.MapClaims{
		"sub": "user123",
		"exp": time.Now().Add(15 * time.Minute).Unix(),
	})
	db.RefreshTokens["refreshtoken"] = "user123"

	claims := jwt.MapClaims{"sub": "user123", "provider": "testprovider"}
	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req = req.WithContext(context.WithValue(req.Context(), claimsContextKey, claims))
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refreshtoken"})
	w := httptest.NewRecorder()

	handler.HandleLogout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if _, ok := db.BlacklistedTokens[accessToken]; !ok {
		t.Errorf("access token should be blacklisted")
	}
	if _, ok := db.RefreshTokens["refreshtoken"]; ok {
		t.Errorf("refresh token should be revoked")
	}

	var logout LogoutResponse
	decodeResp(t, w, &logout)
	if logout.EndSessionURL != "http://localhost/logout" {
		t.Errorf("expected end session url, got %q", logout.EndSessionURL)
	}
}

func TestHandleRefresh(t *testing.T) {
	handler, db := newTestHandler()

	userID := "user123"
	tokens, err := generateTokens(jwt.MapClaims{"sub": userID, "provider": "testprovider"}, handler.Config)
	if err != nil {
		t.Fatalf("failed to generate tokens: %v", err)
	}
	refreshToken := tokens.RefreshToken
	db.RefreshTokens[refreshToken] = userID
	db.ProviderTokensData[userID] = map[string]ProviderTokens{
		"testprovider": {
			AccessToken:  "provideraccesstoken",
			RefreshToken: "providerrefreshtoken",
			ExpiresAt:    time.Now().Add(-time.Minute),
		},
	}

	// Mock getUserInfo
	handler.getUserInfoFunc = func(ctx context.Context, providerName string, accessToken string) (*providers.ProviderUserInfo, error) {
		if accessToken != "newprovideraccesstoken" {
			t.Errorf("user info should be fetched with the renewed token, got %s", accessToken)
		}
		return &providers.ProviderUserInfo{
			Sub:      userID,
			Name:     "John Doe",
			Email:    "john@example.com",
			Provider: providerName,
		}, nil
	}

	// Mock exchangeProviderRefreshToken
	handler.exchangeProviderRefreshTokenFunc = func(ctx context.Context, providerName string, refreshToken string) (*oauth2.Token, error) {
		return &oauth2.Token{
			AccessToken:  "newprovideraccesstoken",
			RefreshToken: "newproviderrefreshtoken",
			Expiry:       time.Now().Add(1 * time.Hour),
		}, nil
	}

	req := httptest.NewRequest("POST", "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshToken})
	w := httptest.NewRecorder()

	handler.HandleRefresh(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	// Check that the old refresh token is revoked
	if _, err := handler.Database.ValidateRefreshToken(context.Background(), refreshToken); err == nil {
		t.Errorf("old refresh token should be revoked")
	}

	// Check that a new refresh token is stored
	if len(db.RefreshTokens) != 1 {
		t.Errorf("new refresh token should be stored")
	}
	for _, uid := range db.RefreshTokens {
		if uid != userID {
			t.Errorf("new refresh token details mismatch")
		}
	}

	if db.ProviderTokensData[userID]["testprovider"].RefreshToken != "newproviderrefreshtoken" {
		t.Errorf("provider tokens should be updated")
	}

	var newTokens TokenResponse
	decodeResp(t, w, &newTokens)
	claims, err := parseJWT(newTokens.AccessToken, handler.Config.JwtSecret)
	if err != nil {
		t.Fatalf("new access token should be valid: %v", err)
	}
	if claims["email"] != "john@example.com" {
		t.Errorf("claims should carry refreshed user info: %v", claims)
	}
}

func TestHandleRefreshWithoutProvider(t *testing.T) {
	handler, db := newTestHandler()

	tokens, err := generateTokens(jwt.MapClaims{"sub": "0xreporter"}, handler.Config)
	if err != nil {
		t.Fatalf("failed to generate tokens: %v", err)
	}
	db.RefreshTokens[tokens.RefreshToken] = "0xreporter"

	req := httptest.NewRequest("POST", "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: tokens.RefreshToken})
	w := httptest.NewRecorder()

	handler.HandleRefresh(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := db.RefreshTokens[tokens.RefreshToken]; ok {
		t.Errorf("old refresh token should be revoked")
	}
}

func TestHandleRefreshInvalid(t *testing.T) {
	handler, _ := newTestHandler()

	req := httptest.NewRequest("POST", "/auth/refresh", nil)
	w := httptest.NewRecorder()
	handler.HandleRefresh(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "unknown"})
	w = httptest.NewRecorder()
	handler.HandleRefresh(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for unknown token, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "refresh token") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}
