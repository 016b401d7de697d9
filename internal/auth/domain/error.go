package domain

import "errors"

var (
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidToken    = errors.New("invalid_token")
	ErrTokenExpired    = errors.New("token_expired")
	ErrTokenUsed       = errors.New("token_used")
	ErrSessionNotFound = errors.New("session_not_found")
	ErrSessionExpired  = errors.New("session_expired")
	ErrSessionRevoked  = errors.New("session_revoked")
	ErrInvalidSession  = errors.New("invalid_session")
)
