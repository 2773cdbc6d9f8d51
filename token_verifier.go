package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenVerifierOption customizes a TokenVerifier
type TokenVerifierOption func(*verifierConfig) error

type verifierConfig struct {
	signingKey []byte
	jwksURL    string
	jwksJSON   []byte
	keyFunc    jwt.Keyfunc
	methods    []string
	issuer     string
	audience   string
	leeway     time.Duration
	now        func() time.Time
	logger     Logger
}

// WithVerifierSigningKey verifies HS256 tokens with a shared secret
func WithVerifierSigningKey(key []byte) TokenVerifierOption {
	return func(c *verifierConfig) error {
		if len(key) == 0 {
			return goerrors.New("signing key must not be empty", goerrors.CategoryBadInput)
		}
		c.signingKey = key
		return nil
	}
}

// WithVerifierJWKSURL verifies tokens against the provider JWKS endpoint
func WithVerifierJWKSURL(url string) TokenVerifierOption {
	return func(c *verifierConfig) error {
		c.jwksURL = strings.TrimSpace(url)
		return nil
	}
}

// WithVerifierJWKSJSON verifies tokens against a static JWKS document
func WithVerifierJWKSJSON(raw []byte) TokenVerifierOption {
	return func(c *verifierConfig) error {
		c.jwksJSON = raw
		return nil
	}
}

// WithVerifierKeyfunc plugs a custom key lookup
func WithVerifierKeyfunc(fn jwt.Keyfunc) TokenVerifierOption {
	return func(c *verifierConfig) error {
		c.keyFunc = fn
		return nil
	}
}

// WithVerifierMethods restricts the accepted signing algorithms
func WithVerifierMethods(methods ...string) TokenVerifierOption {
	return func(c *verifierConfig) error {
		c.methods = append([]string(nil), methods...)
		return nil
	}
}

// WithVerifierIssuer requires the iss claim to match
func WithVerifierIssuer(issuer string) TokenVerifierOption {
	return func(c *verifierConfig) error {
		c.issuer = issuer
		return nil
	}
}

// WithVerifierAudience requires the aud claim to contain audience
func WithVerifierAudience(audience string) TokenVerifierOption {
	return func(c *verifierConfig) error {
		c.audience = audience
		return nil
	}
}

// WithVerifierLeeway tolerates clock skew on time based claims
func WithVerifierLeeway(leeway time.Duration) TokenVerifierOption {
	return func(c *verifierConfig) error {
		c.leeway = leeway
		return nil
	}
}

// WithVerifierClock injects the single time source used for expiry checks
func WithVerifierClock(clock func() time.Time) TokenVerifierOption {
	return func(c *verifierConfig) error {
		if clock != nil {
			c.now = clock
		}
		return nil
	}
}

// WithVerifierLogger overrides the verifier logger
func WithVerifierLogger(logger Logger) TokenVerifierOption {
	return func(c *verifierConfig) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// TokenVerifier verifies bearer tokens on the server. It holds no per request
// state and is safe for concurrent use.
//
// Verify and Decode are deliberately separate: Verify returns a VerifiedToken
// after checking signature and expiry, Decode returns a DecodedToken without
// checking anything.
type TokenVerifier struct {
	keyFunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	options []jwt.ParserOption
	logger  Logger
}

// NewTokenVerifier builds a verifier. One key source is required: a signing
// key, a JWKS URL, a JWKS document or a custom key func.
func NewTokenVerifier(opts ...TokenVerifierOption) (*TokenVerifier, error) {
	cfg := &verifierConfig{
		now:    time.Now,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	v := &TokenVerifier{logger: cfg.logger}

	switch {
	case cfg.keyFunc != nil:
		v.keyFunc = cfg.keyFunc
	case len(cfg.jwksJSON) > 0:
		jwks, err := keyfunc.NewJSON(cfg.jwksJSON)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid JWKS document")
		}
		v.jwks = jwks
		v.keyFunc = jwks.Keyfunc
	case cfg.jwksURL != "":
		jwks, err := keyfunc.Get(cfg.jwksURL, keyfunc.Options{
			RefreshErrorHandler: func(err error) {
				cfg.logger.Warn("failed to do a background refresh of JWKS: %v", err)
			},
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("failed to load JWKS from %s", cfg.jwksURL))
		}
		v.jwks = jwks
		v.keyFunc = jwks.Keyfunc
	case len(cfg.signingKey) > 0:
		key := cfg.signingKey
		v.keyFunc = func(*jwt.Token) (any, error) {
			return key, nil
		}
	default:
		return nil, goerrors.New("token verifier requires a signing key, JWKS or key func", goerrors.CategoryBadInput)
	}

	methods := cfg.methods
	if len(methods) == 0 {
		if v.jwks != nil {
			methods = []string{"ES256", "RS256"}
		} else {
			methods = []string{jwt.SigningMethodHS256.Alg()}
		}
	}

	v.options = []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithTimeFunc(cfg.now),
		jwt.WithExpirationRequired(),
	}
	if cfg.issuer != "" {
		v.options = append(v.options, jwt.WithIssuer(cfg.issuer))
	}
	if cfg.audience != "" {
		v.options = append(v.options, jwt.WithAudience(cfg.audience))
	}
	if cfg.leeway > 0 {
		v.options = append(v.options, jwt.WithLeeway(cfg.leeway))
	}

	return v, nil
}

// Verify checks signature, algorithm and expiry and returns the verified
// claims. Failures carry CodeTokenMalformed, CodeTokenExpired or
// CodeTokenSignatureInvalid.
func (v *TokenVerifier) Verify(token string) Result[VerifiedToken] {
	token = strings.TrimSpace(token)
	if token == "" {
		return Fail[VerifiedToken](NewError(CodeTokenMalformed, "token is empty"))
	}

	claims := &TokenClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, v.keyFunc, v.options...); err != nil {
		richErr := normalizeVerifyError(err)
		v.logger.Debug("token verification failed: %s (%v)", richErr.TextCode, err)
		return Fail[VerifiedToken](richErr)
	}

	if claims.Subject == "" {
		return Fail[VerifiedToken](NewError(CodeTokenMalformed, "missing sub claim"))
	}

	return Ok(VerifiedToken{
		UserID:    claims.Subject,
		Email:     claims.Email,
		ExpiresAt: unixOrZero(claims.ExpiresAt),
	})
}

// Decode extracts claims without verifying signature or expiry. It returns nil
// for malformed tokens and tokens without a subject.
func (v *TokenVerifier) Decode(token string) *DecodedToken {
	return DecodeUnverified(token)
}

// DecodeUnverified is the function behind TokenVerifier.Decode.
func DecodeUnverified(token string) *DecodedToken {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	if claims.Subject == "" {
		return nil
	}

	return &DecodedToken{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Issuer:    claims.Issuer,
		ExpiresAt: unixOrZero(claims.ExpiresAt),
	}
}

// Close stops the JWKS background refresh, if any
func (v *TokenVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func normalizeVerifyError(err error) *goerrors.Error {
	code := CodeOf(err)
	switch code {
	case CodeTokenExpired, CodeTokenSignatureInvalid, CodeTokenMalformed:
	default:
		code = CodeTokenMalformed
	}

	richErr := WrapError(err, code)
	return richErr.WithMetadata(map[string]any{
		"cause": err.Error(),
	})
}
