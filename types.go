package auth

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// AuthUser is the identity issued by the remote provider. Name, DefaultCurrency
// and CreatedAt are optional profile fields.
type AuthUser struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name,omitempty"`
	DefaultCurrency string `json:"defaultCurrency,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
}

// AuthSession is a time bounded credential bundle. ExpiresAt is expressed in
// epoch seconds, zero means the provider did not report an expiry.
type AuthSession struct {
	User         AuthUser `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpiresAt    int64    `json:"expiresAt,omitempty"`
}

// ExpiredAt reports whether the session is expired at the given instant.
func (s AuthSession) ExpiredAt(now time.Time) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Unix() >= s.ExpiresAt
}

// Status is the AuthState discriminator
type Status string

const (
	StatusIdle            Status = "idle"
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// AuthState is the observable session state. Status is authenticated if and
// only if User is set and AccessToken is not empty.
type AuthState struct {
	Status      Status    `json:"status"`
	User        *AuthUser `json:"user"`
	AccessToken string    `json:"accessToken,omitempty"`
}

func (s AuthState) String() string {
	user := "<nil>"
	if s.User != nil {
		user = s.User.ID
	}
	return fmt.Sprintf("status=%s user=%s token=%t", s.Status, user, s.AccessToken != "")
}

// SignupInput mirrors the signup form payload
type SignupInput struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	DefaultCurrency string `json:"defaultCurrency,omitempty"`
}

// LoginInput mirrors the login form payload
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// OAuthProvider names an external OAuth identity provider (e.g. "google").
type OAuthProvider string

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// DefaultLogger returns the stdout logger used when none is configured
func DefaultLogger() Logger {
	return defLogger{}
}

// NoopLogger discards every message
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
