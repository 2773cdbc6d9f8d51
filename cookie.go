package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

const (
	// SessionCookieName is the cookie carrying the session tokens
	SessionCookieName = "budgetwise_session"
	// SessionCookieMaxAge is the lifetime of the session cookie
	SessionCookieMaxAge = 7 * 24 * time.Hour
)

// SessionTokens is the payload stored in the session cookie
type SessionTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// TokensFromSession extracts the cookie payload from a session
func TokensFromSession(s AuthSession) SessionTokens {
	return SessionTokens{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
	}
}

// EncodeSessionCookie serializes tokens into a cookie safe value
func EncodeSessionCookie(tokens SessionTokens) (string, error) {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return "", WrapError(err, CodeUnknown)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeSessionCookie parses a cookie value. Values that do not decode or
// carry no access token are malformed.
func DecodeSessionCookie(value string) (SessionTokens, error) {
	var tokens SessionTokens

	value = strings.TrimSpace(value)
	if value == "" {
		return tokens, NewError(CodeNotAuthenticated, "no session cookie")
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return tokens, WrapError(err, CodeTokenMalformed)
	}

	if err := json.Unmarshal(raw, &tokens); err != nil {
		return SessionTokens{}, WrapError(err, CodeTokenMalformed)
	}

	if tokens.AccessToken == "" {
		return SessionTokens{}, NewError(CodeTokenMalformed, "session cookie has no access token")
	}

	return tokens, nil
}
