package auth

import "errors"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenNotFound = errors.New("token not found")
	ErrMissingCaller = errors.New("caller identity not found")
)
