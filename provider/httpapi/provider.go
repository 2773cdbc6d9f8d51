package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	auth "github.com/goliatone/go-budget-auth"
)

// Config holds the auth API client configuration
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:8787"
	BaseURL string

	// Prefix is the auth route group.
	// Default: "/auth".
	Prefix string

	// Timeout bounds every request.
	// Default: 10 seconds.
	Timeout time.Duration

	// HTTPClient overrides the client. Its Jar is replaced when nil.
	HTTPClient *http.Client

	Logger auth.Logger
}

// Provider talks to the auth API. The API keeps the session in an HttpOnly
// cookie, the Provider keeps that cookie in its jar and reads the tokens
// back from it.
type Provider struct {
	base   *url.URL
	prefix string
	client *http.Client
	logger auth.Logger
}

var _ auth.Provider = (*Provider)(nil)

// New creates the auth API provider
func New(cfg Config) (*Provider, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, auth.NewError(auth.CodeInvalidInput, "auth api base url is required")
	}

	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, auth.NewError(auth.CodeInvalidInput, fmt.Sprintf("invalid auth api base url %q", raw))
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/auth"
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, auth.WrapError(err, auth.CodeUnknown)
		}
		client.Jar = jar
	}

	logger := cfg.Logger
	if logger == nil {
		logger = auth.NoopLogger{}
	}

	return &Provider{
		base:   base,
		prefix: "/" + strings.Trim(prefix, "/"),
		client: client,
		logger: logger,
	}, nil
}

type userEnvelope struct {
	User auth.AuthUser `json:"user"`
}

type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (p *Provider) Signup(ctx context.Context, input auth.SignupInput) auth.Result[auth.AuthSession] {
	var out userEnvelope
	res, authErr := p.call(ctx, http.MethodPost, "/signup", input, &out)
	if authErr != nil {
		return auth.Result[auth.AuthSession]{Error: authErr}
	}

	// no cookie means the account waits for email confirmation
	return auth.Ok(res.session(out.User))
}

func (p *Provider) Login(ctx context.Context, input auth.LoginInput) auth.Result[auth.AuthSession] {
	var out userEnvelope
	res, authErr := p.call(ctx, http.MethodPost, "/login", input, &out)
	if authErr != nil {
		return auth.Result[auth.AuthSession]{Error: authErr}
	}

	session := res.session(out.User)
	if session.AccessToken == "" {
		return auth.FailWith[auth.AuthSession](auth.CodeUnknown, "login response did not set a session cookie")
	}
	return auth.Ok(session)
}

// Logout drops the local cookie whatever the API answered
func (p *Provider) Logout(ctx context.Context) auth.Result[struct{}] {
	authErr := p.do(ctx, http.MethodPost, "/logout", nil, nil)
	p.clearCookie()

	if authErr != nil {
		p.logger.Warn("auth api logout failed: %s", authErr.Message)
		return auth.Result[struct{}]{Error: authErr}
	}
	return auth.Ok(struct{}{})
}

func (p *Provider) GetSession(ctx context.Context) auth.Result[*auth.AuthSession] {
	if _, ok := p.tokens(); !ok {
		return auth.Ok[*auth.AuthSession](nil)
	}

	var out userEnvelope
	res, authErr := p.call(ctx, http.MethodGet, "/me", nil, &out)
	if authErr != nil {
		if res.status == http.StatusUnauthorized {
			p.clearCookie()
			return auth.Ok[*auth.AuthSession](nil)
		}
		return auth.Result[*auth.AuthSession]{Error: authErr}
	}

	// /me does not rotate the cookie, the jar holds the verified tokens
	tokens, ok := p.tokens()
	if !ok {
		return auth.Ok[*auth.AuthSession](nil)
	}
	session := sessionFrom(out.User, tokens)
	return auth.Ok(&session)
}

func (p *Provider) RefreshSession(ctx context.Context) auth.Result[auth.AuthSession] {
	var out userEnvelope
	res, authErr := p.call(ctx, http.MethodPost, "/refresh", nil, &out)
	if authErr != nil {
		if authErr.Code == auth.CodeUnknown && authErr.Message == "" {
			authErr.Code = auth.CodeTokenExpired
			authErr.Message = "Session expired"
		}
		return auth.Result[auth.AuthSession]{Error: authErr}
	}

	session := res.session(out.User)
	if session.AccessToken == "" {
		return auth.FailWith[auth.AuthSession](auth.CodeTokenExpired, "Session expired")
	}
	return auth.Ok(session)
}

func (p *Provider) SendPasswordResetEmail(ctx context.Context, email string) auth.Result[struct{}] {
	payload := map[string]string{"email": email}
	if authErr := p.do(ctx, http.MethodPost, "/forgot-password", payload, nil); authErr != nil {
		return auth.Result[struct{}]{Error: authErr}
	}
	return auth.Ok(struct{}{})
}

func (p *Provider) ResetPassword(ctx context.Context, token, newPassword string) auth.Result[struct{}] {
	payload := map[string]string{"token": token, "newPassword": newPassword}
	if authErr := p.do(ctx, http.MethodPost, "/reset-password", payload, nil); authErr != nil {
		return auth.Result[struct{}]{Error: authErr}
	}
	return auth.Ok(struct{}{})
}

// reply is what a call learned from the response besides its body
type reply struct {
	status int
	tokens auth.SessionTokens
	issued bool
}

// session binds the user to the tokens set by this response only, a cookie
// left in the jar by an earlier session never leaks into it
func (r reply) session(user auth.AuthUser) auth.AuthSession {
	if !r.issued {
		return auth.AuthSession{User: user}
	}
	return sessionFrom(user, r.tokens)
}

// ConfirmEmail completes a signup that waited for email confirmation. The
// returned session is meant for SessionManager.SetSession.
func (p *Provider) ConfirmEmail(ctx context.Context, token string) auth.Result[auth.AuthSession] {
	var out userEnvelope
	res, authErr := p.call(ctx, http.MethodPost, "/confirm-email", map[string]string{"token": token}, &out)
	if authErr != nil {
		return auth.Result[auth.AuthSession]{Error: authErr}
	}

	session := res.session(out.User)
	if session.AccessToken == "" {
		return auth.FailWith[auth.AuthSession](auth.CodeUnknown, "confirmation response did not set a session cookie")
	}
	return auth.Ok(session)
}

// ResendConfirmation asks the API to mail a new confirmation link
func (p *Provider) ResendConfirmation(ctx context.Context, email string) auth.Result[struct{}] {
	payload := map[string]string{"email": email}
	if authErr := p.do(ctx, http.MethodPost, "/resend-confirmation", payload, nil); authErr != nil {
		return auth.Result[struct{}]{Error: authErr}
	}
	return auth.Ok(struct{}{})
}

func (p *Provider) do(ctx context.Context, method, path string, body, out any) *auth.AuthError {
	_, authErr := p.call(ctx, method, path, body, out)
	return authErr
}

func (p *Provider) call(ctx context.Context, method, path string, body, out any) (reply, *auth.AuthError) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return reply{}, &auth.AuthError{Code: auth.CodeInvalidInput, Message: err.Error()}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.endpoint(path), reader)
	if err != nil {
		return reply{}, &auth.AuthError{Code: auth.CodeUnknown, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("auth api %s %s failed: %v", method, path, err)
		return reply{}, &auth.AuthError{Code: auth.CodeNetworkFailure, Message: err.Error()}
	}
	defer resp.Body.Close()

	r := reply{status: resp.StatusCode}
	r.tokens, r.issued = issuedTokens(resp)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return r, &auth.AuthError{Code: auth.CodeNetworkFailure, Message: err.Error()}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return r, decodeError(resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return r, &auth.AuthError{Code: auth.CodeUnknown, Message: "unreadable auth api response: " + err.Error()}
		}
	}

	return r, nil
}

// issuedTokens reads the session cookie set by resp, if any
func issuedTokens(resp *http.Response) (auth.SessionTokens, bool) {
	for _, c := range resp.Cookies() {
		if c.Name != auth.SessionCookieName || c.Value == "" {
			continue
		}
		tokens, err := auth.DecodeSessionCookie(c.Value)
		if err != nil {
			return auth.SessionTokens{}, false
		}
		return tokens, true
	}
	return auth.SessionTokens{}, false
}

func decodeError(status int, raw []byte) *auth.AuthError {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		return &auth.AuthError{
			Code:    auth.ParseErrorCode(env.Error.Code),
			Message: env.Error.Message,
		}
	}

	message := env.Message
	if message == "" {
		message = http.StatusText(status)
	}

	code := auth.CodeUnknown
	if status == http.StatusUnauthorized {
		code = auth.CodeNotAuthenticated
	}
	return &auth.AuthError{Code: code, Message: message}
}

func (p *Provider) endpoint(path string) string {
	return p.base.String() + p.prefix + path
}

func (p *Provider) cookieURL() *url.URL {
	u := *p.base
	u.Path = "/"
	return &u
}

func (p *Provider) tokens() (auth.SessionTokens, bool) {
	for _, c := range p.client.Jar.Cookies(p.cookieURL()) {
		if c.Name != auth.SessionCookieName {
			continue
		}
		tokens, err := auth.DecodeSessionCookie(c.Value)
		if err != nil {
			return auth.SessionTokens{}, false
		}
		return tokens, true
	}
	return auth.SessionTokens{}, false
}

func sessionFrom(user auth.AuthUser, tokens auth.SessionTokens) auth.AuthSession {
	return auth.AuthSession{
		User:         user,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}
}

func (p *Provider) clearCookie() {
	p.client.Jar.SetCookies(p.cookieURL(), []*http.Cookie{{
		Name:   auth.SessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
}
