package auth_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-budget-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var verifierKey = []byte("verifier-test-signing-key")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newHSVerifier(t *testing.T, now time.Time, opts ...auth.TokenVerifierOption) *auth.TokenVerifier {
	t.Helper()
	opts = append([]auth.TokenVerifierOption{
		auth.WithVerifierSigningKey(verifierKey),
		auth.WithVerifierClock(fixedClock(now)),
		auth.WithVerifierLogger(auth.NoopLogger{}),
	}, opts...)
	v, err := auth.NewTokenVerifier(opts...)
	require.NoError(t, err)
	return v
}

func signHS(t *testing.T, method jwt.SigningMethod, key []byte, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestTokenVerifier_VerifyValidToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := auth.NewTokenIssuer(verifierKey,
		auth.WithIssuerClock(fixedClock(now)),
		auth.WithIssuerTTL(time.Hour),
		auth.WithIssuerLogger(auth.NoopLogger{}),
	)

	token, expiresAt, err := issuer.Issue(auth.AuthUser{ID: "user-1", Email: "a@b.com", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expiresAt)

	v := newHSVerifier(t, now.Add(30*time.Minute))
	result := v.Verify(token)

	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, "user-1", result.Data.UserID)
	assert.Equal(t, "a@b.com", result.Data.Email)
	assert.Equal(t, expiresAt.Unix(), result.Data.ExpiresAt)
}

func TestTokenVerifier_ExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := signHS(t, jwt.SigningMethodHS256, verifierKey, &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
		Email: "a@b.com",
	})

	v := newHSVerifier(t, now)

	result := v.Verify(token)
	assert.False(t, result.Success)
	assert.Equal(t, auth.CodeTokenExpired, result.Code())

	// decoding ignores expiry
	decoded := v.Decode(token)
	require.NotNil(t, decoded)
	assert.Equal(t, "user-1", decoded.UserID)
	assert.Equal(t, "a@b.com", decoded.Email)
	assert.Equal(t, now.Add(-time.Hour).Unix(), decoded.ExpiresAt)
}

func TestTokenVerifier_LeewayToleratesSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := signHS(t, jwt.SigningMethodHS256, verifierKey, &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
	})

	v := newHSVerifier(t, now, auth.WithVerifierLeeway(time.Minute))
	assert.True(t, v.Verify(token).Success)
}

func TestTokenVerifier_SignatureFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	claims := &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "wrong key",
			token: signHS(t, jwt.SigningMethodHS256, []byte("some-other-key"), claims),
		},
		{
			name:  "algorithm not allowed",
			token: signHS(t, jwt.SigningMethodHS384, verifierKey, claims),
		},
	}

	v := newHSVerifier(t, now)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Verify(tt.token)
			assert.False(t, result.Success)
			assert.Equal(t, auth.CodeTokenSignatureInvalid, result.Code())
		})
	}
}

func TestTokenVerifier_TamperedPayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := signHS(t, jwt.SigningMethodHS256, verifierKey, &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	forged := signHS(t, jwt.SigningMethodHS256, verifierKey, &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	// keep the original signature on a different payload
	parts := splitToken(t, token)
	forgedParts := splitToken(t, forged)
	tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]

	v := newHSVerifier(t, now)
	result := v.Verify(tampered)
	assert.Equal(t, auth.CodeTokenSignatureInvalid, result.Code())
}

func splitToken(t *testing.T, token string) []string {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	return parts
}

func TestTokenVerifier_MalformedTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := newHSVerifier(t, now)

	noSubject := signHS(t, jwt.SigningMethodHS256, verifierKey, &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	noExpiry := signHS(t, jwt.SigningMethodHS256, verifierKey, &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-1",
		},
	})

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "blank", token: "   "},
		{name: "garbage", token: "not-a-jwt"},
		{name: "two segments", token: "abc.def"},
		{name: "bad base64", token: "!!!.###.$$$"},
		{name: "missing subject", token: noSubject},
		{name: "missing expiry", token: noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Verify(tt.token)
			assert.False(t, result.Success)
			assert.Equal(t, auth.CodeTokenMalformed, result.Code())
		})
	}
}

func TestTokenVerifier_DecodeRejectsUnreadableTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := newHSVerifier(t, now)

	assert.Nil(t, v.Decode(""))
	assert.Nil(t, v.Decode("not-a-jwt"))

	noSubject := signHS(t, jwt.SigningMethodHS256, verifierKey, &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now)},
	})
	assert.Nil(t, v.Decode(noSubject))

	// signature is not checked when decoding
	foreign := signHS(t, jwt.SigningMethodHS256, []byte("unknown"), &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-9", Issuer: "elsewhere"},
	})
	decoded := v.Decode(foreign)
	require.NotNil(t, decoded)
	assert.Equal(t, "user-9", decoded.UserID)
	assert.Equal(t, "elsewhere", decoded.Issuer)
	assert.Zero(t, decoded.ExpiresAt)
}

func TestTokenVerifier_IssuerAndAudience(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issue := func(iss, aud string) string {
		issuer := auth.NewTokenIssuer(verifierKey,
			auth.WithIssuerClock(fixedClock(now)),
			auth.WithIssuerName(iss),
			auth.WithIssuerAudience(aud),
			auth.WithIssuerLogger(auth.NoopLogger{}),
		)
		token, _, err := issuer.Issue(auth.AuthUser{ID: "user-1"})
		require.NoError(t, err)
		return token
	}

	v := newHSVerifier(t, now,
		auth.WithVerifierIssuer("budgetwise"),
		auth.WithVerifierAudience("budgetwise-web"),
	)

	assert.True(t, v.Verify(issue("budgetwise", "budgetwise-web")).Success)
	assert.Equal(t, auth.CodeTokenMalformed, v.Verify(issue("someone-else", "budgetwise-web")).Code())
	assert.Equal(t, auth.CodeTokenMalformed, v.Verify(issue("budgetwise", "mobile")).Code())
}

func TestNewTokenVerifier_RequiresKeySource(t *testing.T) {
	_, err := auth.NewTokenVerifier()
	assert.Error(t, err)

	_, err = auth.NewTokenVerifier(auth.WithVerifierSigningKey(nil))
	assert.Error(t, err)

	_, err = auth.NewTokenVerifier(auth.WithVerifierJWKSJSON([]byte("{not json")))
	assert.Error(t, err)
}

func TestTokenVerifier_CustomKeyfunc(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v, err := auth.NewTokenVerifier(
		auth.WithVerifierKeyfunc(func(*jwt.Token) (any, error) { return verifierKey, nil }),
		auth.WithVerifierClock(fixedClock(now)),
		auth.WithVerifierLogger(auth.NoopLogger{}),
	)
	require.NoError(t, err)

	token := signHS(t, jwt.SigningMethodHS256, verifierKey, &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	assert.True(t, v.Verify(token).Success)
}

func newECKeySet(t *testing.T, kid string) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	coord := func(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
	doc := map[string]any{
		"keys": []map[string]any{{
			"kty": "EC",
			"crv": "P-256",
			"kid": kid,
			"alg": "ES256",
			"use": "sig",
			"x":   coord(key.PublicKey.X.FillBytes(make([]byte, 32))),
			"y":   coord(key.PublicKey.Y.FillBytes(make([]byte, 32))),
		}},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return key, raw
}

func signES(t *testing.T, key *ecdsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestTokenVerifier_JWKSDocument(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key, doc := newECKeySet(t, "key-1")

	v, err := auth.NewTokenVerifier(
		auth.WithVerifierJWKSJSON(doc),
		auth.WithVerifierClock(fixedClock(now)),
		auth.WithVerifierLogger(auth.NoopLogger{}),
	)
	require.NoError(t, err)
	defer v.Close()

	claims := &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email: "a@b.com",
	}

	result := v.Verify(signES(t, key, "key-1", claims))
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, "user-1", result.Data.UserID)

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	result = v.Verify(signES(t, other, "key-1", claims))
	assert.Equal(t, auth.CodeTokenSignatureInvalid, result.Code())

	// HS256 tokens are not accepted by a JWKS verifier
	result = v.Verify(signHS(t, jwt.SigningMethodHS256, verifierKey, claims))
	assert.Equal(t, auth.CodeTokenSignatureInvalid, result.Code())
}

func TestTokenVerifier_JWKSURL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key, doc := newECKeySet(t, "key-1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	v, err := auth.NewTokenVerifier(
		auth.WithVerifierJWKSURL(srv.URL),
		auth.WithVerifierClock(fixedClock(now)),
		auth.WithVerifierLogger(auth.NoopLogger{}),
	)
	require.NoError(t, err)
	defer v.Close()

	token := signES(t, key, "key-1", &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	result := v.Verify(token)
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, "user-1", result.Data.UserID)
}
