package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-budget-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

func TestNewTokenIssuer(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("key"))
	assert.Equal(t, auth.DefaultAccessTokenTTL, issuer.TTL())

	issuer = auth.NewTokenIssuer([]byte("key"), auth.WithIssuerTTL(15*time.Minute))
	assert.Equal(t, 15*time.Minute, issuer.TTL())

	issuer = auth.NewTokenIssuer([]byte("key"), auth.WithIssuerTTL(-time.Minute))
	assert.Equal(t, auth.DefaultAccessTokenTTL, issuer.TTL())
}

func TestTokenIssuer_IssueClaims(t *testing.T) {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	key := []byte("issuer-test-key")
	issuer := auth.NewTokenIssuer(key,
		auth.WithIssuerClock(fixedClock(now)),
		auth.WithIssuerTTL(30*time.Minute),
		auth.WithIssuerName("budgetwise"),
		auth.WithIssuerAudience("web", "mobile"),
	)

	token, expiresAt, err := issuer.Issue(auth.AuthUser{ID: "user-1", Email: "a@b.com", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), expiresAt)

	claims := &auth.TokenClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "a@b.com", claims.Email)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "budgetwise", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"web", "mobile"}, claims.Audience)
	assert.Equal(t, now.Unix(), claims.IssuedAt().Unix())
	assert.Equal(t, expiresAt.Unix(), claims.Expires().Unix())
	assert.NotEmpty(t, claims.ID)
}

func TestTokenIssuer_UniqueTokenIDs(t *testing.T) {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	issuer := auth.NewTokenIssuer([]byte("k"), auth.WithIssuerClock(fixedClock(now)))

	first, _, err := issuer.Issue(auth.AuthUser{ID: "user-1"})
	require.NoError(t, err)
	second, _, err := issuer.Issue(auth.AuthUser{ID: "user-1"})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestTokenIssuer_Errors(t *testing.T) {
	_, _, err := auth.NewTokenIssuer([]byte("k")).Issue(auth.AuthUser{})
	assert.Error(t, err)

	logger := &MockLogger{}
	_, _, err = auth.NewTokenIssuer(nil, auth.WithIssuerLogger(logger)).Issue(auth.AuthUser{ID: "user-1"})
	assert.Error(t, err)
	logger.AssertNotCalled(t, "Error", mock.Anything, mock.Anything)

	_, err = auth.NewTokenIssuer([]byte("k")).SignClaims(nil)
	assert.Error(t, err)
}

func TestTokenClaims_ZeroTimes(t *testing.T) {
	claims := &auth.TokenClaims{}
	assert.True(t, claims.Expires().IsZero())
	assert.True(t, claims.IssuedAt().IsZero())
	assert.Empty(t, claims.UserID())
}
