package auth

import "time"

// HttpResp represents the standard HTTP response structure.
type HttpResp struct {
	Status  string      `json:"status" example:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message" example:"Operation completed successfully"`
}

type ProviderTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"` // Optional, as some providers may not issue refresh tokens
	ExpiresAt    time.Time `json:"expires_at"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// UserInfo represents the authenticated user's information.
type UserInfo struct {
	Sub      string `json:"sub"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// StatusResponse defines the structure of the /status response.
type StatusResponse struct {
	Authenticated bool     `json:"authenticated"`
	User          UserInfo `json:"user,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// LogoutResponse defines the structure of the logout response.
type LogoutResponse struct {
	Message       string `json:"message"`
	EndSessionURL string `json:"end_session_url,omitempty"`
}

// ProviderInfo describes a login provider for the /auth/providers listing.
type ProviderInfo struct {
	Name     string `json:"name"`
	LoginURL string `json:"login_url"`
}
