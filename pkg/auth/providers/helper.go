package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
	"golang.org/x/oauth2"
)

// defaultRenewAccessToken trades a provider refresh token for a new access token.
func defaultRenewAccessToken(ctx context.Context, p Provider, refreshToken string) (*oauth2.Token, error) {
	tokenSource := p.OAuth2Config().TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
	})

	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to renew %s access token: %w", p.Name(), err)
	}

	return newToken, nil
}

// defaultFetchUserInfo decodes the userinfo endpoint response into out.
func defaultFetchUserInfo(ctx context.Context, p Provider, accessToken string, out interface{}) error {
	if p.Config().UserInfoURL == "" {
		return fmt.Errorf("%s has no userinfo endpoint", p.Name())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Config().UserInfoURL, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to get %s user info: status %d", p.Name(), resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider user info response: %w", err)
	}
	return nil
}

// defaultDecodeIDToken decodes and validates the ID token using the provider's JWKs.
func defaultDecodeIDToken(ctx context.Context, p Provider, idToken string) (jwt.MapClaims, error) {
	set, err := jwk.Fetch(ctx, p.Config().WellKnownJwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKs: %w", err)
	}

	token, err := jwt.Parse(idToken, func(token *jwt.Token) (interface{}, error) {
		// Ensure token is signed with the expected signing method
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		// Get kid from token header
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid header not found")
		}

		// Lookup the key
		key, exists := set.LookupKeyID(kid)
		if !exists {
			return nil, fmt.Errorf("unable to find key %s", kid)
		}

		var publicKey interface{}
		if err := key.Raw(&publicKey); err != nil {
			return nil, fmt.Errorf("failed to parse JWK: %w", err)
		}

		return publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse ID token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid ID token")
}

// rawIDToken extracts the id_token returned with the access token.
func rawIDToken(token *oauth2.Token) (string, error) {
	idToken, ok := token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return "", fmt.Errorf("missing id_token in token")
	}
	return idToken, nil
}

// userInfoFromClaims maps verified OpenID Connect claims to the user of p.
// The sub claim is always required, the claims named in required must be
// present as well.
func userInfoFromClaims(p Provider, claims jwt.MapClaims, required ...string) (*ProviderUserInfo, error) {
	for _, name := range append([]string{"sub"}, required...) {
		if v, _ := claims[name].(string); v == "" {
			return nil, fmt.Errorf("invalid user claims: missing '%s'", name)
		}
	}

	userInfo := ProviderUserInfo{Provider: p.Name()}
	userInfo.Sub, _ = claims["sub"].(string)
	userInfo.Name, _ = claims["name"].(string)
	userInfo.Email, _ = claims["email"].(string)
	userInfo.ProfileURL, _ = claims["profile"].(string)
	userInfo.Picture, _ = claims["picture"].(string)
	return &userInfo, nil
}

// verifyIDToken decodes the id_token of token and maps its claims.
func verifyIDToken(ctx context.Context, p Provider, token *oauth2.Token, required ...string) (*ProviderUserInfo, error) {
	idToken, err := rawIDToken(token)
	if err != nil {
		return nil, err
	}
	claims, err := defaultDecodeIDToken(ctx, p, idToken)
	if err != nil {
		return nil, err
	}
	return userInfoFromClaims(p, claims, required...)
}

func defaultExchangeCode(ctx context.Context, p Provider, code string) (*oauth2.Token, error) {
	return p.OAuth2Config().Exchange(ctx, code)
}
