package bearer

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-budget-auth"
)

var (
	defaultTokenLookup = "header:" + fiber.HeaderAuthorization + ",cookie:" + auth.SessionCookieName

	// ErrMissingToken is returned when no extractor found a token
	ErrMissingToken = errors.New("missing or malformed bearer token")
)

// Verifier checks access tokens. *auth.TokenVerifier implements it.
type Verifier interface {
	Verify(token string) auth.Result[auth.VerifiedToken]
	Decode(token string) *auth.DecodedToken
}

// ValidationListener runs after a token verified and before the request
// proceeds. Returning an error rejects the request.
type ValidationListener func(c *fiber.Ctx, token auth.VerifiedToken) error

// Config holds the middleware options
type Config struct {
	// Filter skips the middleware when it returns true
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   func(*fiber.Ctx, error) error
	Verifier       Verifier
	// ContextKey is the fiber locals key for the auth.VerifiedToken
	ContextKey string
	// TokenLookup is a comma separated list of "source:name" pairs, sources
	// are header, cookie and query.
	TokenLookup string
	AuthScheme  string
	// CookieDecoder turns a cookie value into an access token. Defaults to
	// decoding the session cookie payload.
	CookieDecoder       func(string) (string, error)
	ValidationListeners []ValidationListener
	Logger              auth.Logger
}

// New returns a fiber handler that rejects requests without a valid access
// token.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractToken(c, extractors)
		if err != nil {
			if auth.CodeOf(err) == auth.CodeUnknown {
				err = auth.WrapError(err, auth.CodeNotAuthenticated)
			}
			return cfg.ErrorHandler(c, err)
		}

		res := cfg.Verifier.Verify(raw)
		if !res.Success {
			if decoded := cfg.Verifier.Decode(raw); decoded != nil {
				cfg.Logger.Debug("rejected token for user %s: %s", decoded.UserID, res.Error.Message)
			}
			return cfg.ErrorHandler(c, res.Err())
		}

		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, res.Data); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		c.Locals(cfg.ContextKey, res.Data)
		c.SetUserContext(auth.WithVerifiedToken(c.UserContext(), res.Data))

		return cfg.SuccessHandler(c)
	}
}

// GetDefaultConfig fills in the missing options. It panics without a Verifier.
func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Verifier == nil {
		panic("AUTH: bearer middleware configuration: Verifier is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.CookieDecoder == nil {
		cfg.CookieDecoder = func(value string) (string, error) {
			tokens, err := auth.DecodeSessionCookie(value)
			if err != nil {
				return "", err
			}
			return tokens.AccessToken, nil
		}
	}

	if cfg.Logger == nil {
		cfg.Logger = auth.NoopLogger{}
	}

	return cfg
}

// DefaultErrorHandler answers 403 for a bad signature and 401 for everything
// else, with the error envelope used by the auth API.
func DefaultErrorHandler(c *fiber.Ctx, err error) error {
	code := auth.CodeOf(err)
	status := fiber.StatusUnauthorized
	if code == auth.CodeTokenSignatureInvalid {
		status = fiber.StatusForbidden
	}

	res := auth.Fail[struct{}](err)
	return c.Status(status).JSON(fiber.Map{
		"error": res.Error,
	})
}

// Token returns the verified token stored by the middleware under key
func Token(c *fiber.Ctx, key ...string) (auth.VerifiedToken, bool) {
	k := "user"
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	token, ok := c.Locals(k).(auth.VerifiedToken)
	return token, ok
}

// Extractor pulls a raw token out of a request
type Extractor func(c *fiber.Ctx) (string, error)

// ExtractToken returns the first token found by extractors
func ExtractToken(c *fiber.Ctx, extractors []Extractor) (string, error) {
	err := ErrMissingToken
	for _, extractor := range extractors {
		raw, exErr := extractor(c)
		if raw != "" && exErr == nil {
			return raw, nil
		}
		if exErr != nil && !errors.Is(exErr, ErrMissingToken) {
			err = exErr
		}
	}
	return "", err
}

func (cfg *Config) getExtractors() []Extractor {
	extractors := make([]Extractor, 0)

	// header:Authorization,cookie:budgetwise_session,query:access_token
	for _, part := range strings.Split(cfg.TokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		source = strings.TrimSpace(source)
		name = strings.TrimSpace(name)

		switch source {
		case "header":
			extractors = append(extractors, fromHeader(name, cfg.AuthScheme))
		case "query":
			extractors = append(extractors, fromQuery(name))
		case "cookie":
			extractors = append(extractors, fromCookie(name, cfg.CookieDecoder))
		}
	}

	return extractors
}

func fromHeader(header, authScheme string) Extractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) (string, error) {
		value := c.Get(header)
		l := len(authScheme)
		if len(value) > l+1 && strings.EqualFold(value[:l], authScheme) && value[l] == ' ' {
			if token := strings.TrimSpace(value[l:]); token != "" {
				return token, nil
			}
		}
		return "", ErrMissingToken
	}
}

func fromQuery(param string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrMissingToken
		}
		return token, nil
	}
}

func fromCookie(name string, decode func(string) (string, error)) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		value := c.Cookies(name)
		if value == "" {
			return "", ErrMissingToken
		}
		return decode(value)
	}
}
