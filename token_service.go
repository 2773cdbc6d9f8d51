package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultAccessTokenTTL is used when no TTL option is given
const DefaultAccessTokenTTL = time.Hour

// TokenIssuerOption customizes a TokenIssuer
type TokenIssuerOption func(*TokenIssuer)

// WithIssuerTTL sets the access token lifetime
func WithIssuerTTL(ttl time.Duration) TokenIssuerOption {
	return func(ts *TokenIssuer) {
		if ttl > 0 {
			ts.ttl = ttl
		}
	}
}

// WithIssuerName sets the iss claim
func WithIssuerName(issuer string) TokenIssuerOption {
	return func(ts *TokenIssuer) {
		ts.issuer = issuer
	}
}

// WithIssuerAudience sets the aud claim
func WithIssuerAudience(audience ...string) TokenIssuerOption {
	return func(ts *TokenIssuer) {
		ts.audience = append(jwt.ClaimStrings(nil), audience...)
	}
}

// WithIssuerClock injects a custom clock (useful for tests).
func WithIssuerClock(clock func() time.Time) TokenIssuerOption {
	return func(ts *TokenIssuer) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithIssuerLogger overrides the issuer logger
func WithIssuerLogger(logger Logger) TokenIssuerOption {
	return func(ts *TokenIssuer) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// TokenIssuer signs HS256 access tokens for users. It is used by the identity
// service, the verifying side only needs the shared key or the JWKS.
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	logger     Logger
}

// NewTokenIssuer creates a new TokenIssuer instance
func NewTokenIssuer(signingKey []byte, opts ...TokenIssuerOption) *TokenIssuer {
	ts := &TokenIssuer{
		signingKey: signingKey,
		ttl:        DefaultAccessTokenTTL,
		now:        time.Now,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts
}

// Issue creates an access token for user, returning it with its expiry.
func (ts *TokenIssuer) Issue(user AuthUser) (string, time.Time, error) {
	if user.ID == "" {
		return "", time.Time{}, goerrors.New("user id is required", goerrors.CategoryBadInput)
	}

	now := ts.now()
	expiresAt := now.Add(ts.ttl)

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   user.ID,
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: user.Email,
		Name:  user.Name,
	}

	ensureTokenID(&claims.RegisteredClaims)

	token, err := ts.SignClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}

	return token, expiresAt, nil
}

// SignClaims signs arbitrary claims using the configured signing key.
func (ts *TokenIssuer) SignClaims(claims *TokenClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}
	if len(ts.signingKey) == 0 {
		return "", goerrors.New("signing key is not configured", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		ts.logger.Error("token issuer failed to sign: %v", err)
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// TTL returns the access token lifetime
func (ts *TokenIssuer) TTL() time.Duration {
	return ts.ttl
}
