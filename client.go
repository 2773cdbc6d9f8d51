package auth

import (
	"context"
	"sync"
	"time"
)

// SignupOutcome is returned by a successful signup. RequiresConfirmation is
// set when the provider did not issue a usable access token, typically because
// the email address must be confirmed first.
type SignupOutcome struct {
	User                 AuthUser `json:"user"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
}

// LoginOutcome is returned by a successful login
type LoginOutcome struct {
	User AuthUser `json:"user"`
}

// ClientOption customizes Client construction.
type ClientOption func(*Client)

// WithClientLogger overrides the logger used by the Client.
func WithClientLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func WithActivitySink(sink ActivitySink) ClientOption {
	return func(c *Client) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithClientClock injects the clock used to timestamp activity events.
func WithClientClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// Client is the facade UI code talks to. Every state changing provider call is
// paired with the matching SessionManager transition.
//
// State changing operations are serialized per Client: a logout issued while a
// login is in flight runs after the login settled, so the final state always
// reflects the last call made.
type Client struct {
	provider     Provider
	session      *SessionManager
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time

	opMu sync.Mutex
}

// NewClient composes provider and session into a Client.
func NewClient(provider Provider, session *SessionManager, opts ...ClientOption) *Client {
	c := &Client{
		provider:     provider,
		session:      session,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Initialize resolves the initial session state, see SessionManager.Initialize.
func (c *Client) Initialize(ctx context.Context) {
	c.session.Initialize(ctx)
}

func (c *Client) Signup(ctx context.Context, input SignupInput) Result[SignupOutcome] {
	if err := input.Validate(); err != nil {
		return Fail[SignupOutcome](err)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	result := c.provider.Signup(ctx, input.Normalize())
	if !result.Success {
		c.emit(ctx, ActivityEventSignupFailure, "", result.Code(), map[string]any{"email": MaskEmail(input.Email)})
		return Forward[SignupOutcome](result)
	}

	session := result.Data
	requiresConfirmation := session.AccessToken == ""
	if !requiresConfirmation {
		if err := c.session.SetSession(session); err != nil {
			c.logger.Error("signup returned an unusable session: %v", err)
			return FailWith[SignupOutcome](CodeUnknown, "signup returned an incomplete session")
		}
	}

	c.emit(ctx, ActivityEventSignupSuccess, session.User.ID, "", map[string]any{
		"requires_confirmation": requiresConfirmation,
	})

	return Ok(SignupOutcome{
		User:                 session.User,
		RequiresConfirmation: requiresConfirmation,
	})
}

func (c *Client) Login(ctx context.Context, input LoginInput) Result[LoginOutcome] {
	if err := input.Validate(); err != nil {
		return Fail[LoginOutcome](err)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	result := c.provider.Login(ctx, input)
	return c.completeLogin(ctx, result, ActivityEventLoginSuccess, map[string]any{"email": MaskEmail(input.Email)})
}

// SupportsOAuth reports whether the provider implements OAuthLoginer
func (c *Client) SupportsOAuth() bool {
	_, ok := c.provider.(OAuthLoginer)
	return ok
}

// LoginWithOAuth follows the login contract through the optional provider
// capability. Providers without it fail with CodeOAuthUnsupported.
func (c *Client) LoginWithOAuth(ctx context.Context, provider OAuthProvider) Result[LoginOutcome] {
	loginer, ok := c.provider.(OAuthLoginer)
	if !ok {
		return Fail[LoginOutcome](ErrOAuthUnsupported)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	result := loginer.LoginWithOAuth(ctx, provider)
	return c.completeLogin(ctx, result, ActivityEventOAuthLogin, map[string]any{"oauth_provider": string(provider)})
}

func (c *Client) completeLogin(ctx context.Context, result Result[AuthSession], event ActivityEventType, meta map[string]any) Result[LoginOutcome] {
	if !result.Success {
		c.emit(ctx, ActivityEventLoginFailure, "", result.Code(), meta)
		return Forward[LoginOutcome](result)
	}

	if err := c.session.SetSession(result.Data); err != nil {
		c.logger.Error("login returned an unusable session: %v", err)
		c.emit(ctx, ActivityEventLoginFailure, result.Data.User.ID, CodeUnknown, meta)
		return FailWith[LoginOutcome](CodeUnknown, "login returned an incomplete session")
	}

	c.emit(ctx, event, result.Data.User.ID, "", meta)
	return Ok(LoginOutcome{User: result.Data.User})
}

// Logout signs out remotely and always clears the local session, even when
// the provider call failed. The provider result is returned as is.
func (c *Client) Logout(ctx context.Context) Result[struct{}] {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	userID := ""
	if user := c.session.User(); user != nil {
		userID = user.ID
	}

	result := c.provider.Logout(ctx)
	c.session.ClearSession()

	if !result.Success {
		c.logger.Warn("remote logout failed, local session cleared: %s", result.Error.Error())
	}

	c.emit(ctx, ActivityEventLogout, userID, result.Code(), nil)
	return result
}

// RefreshSession exchanges the refresh token for a new session. Any failure
// means the session is expired: local state is cleared and the failure returned.
func (c *Client) RefreshSession(ctx context.Context) Result[LoginOutcome] {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.refresh(ctx)
}

// EnsureFresh refreshes the session once if it is expired according to the
// session clock. It does nothing for sessions that are still valid.
func (c *Client) EnsureFresh(ctx context.Context) Result[LoginOutcome] {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	user := c.session.User()
	if user == nil {
		return Fail[LoginOutcome](ErrNotAuthenticated)
	}

	if !c.session.Expired() {
		return Ok(LoginOutcome{User: *user})
	}

	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) Result[LoginOutcome] {
	result := c.provider.RefreshSession(ctx)
	if !result.Success {
		userID := ""
		if user := c.session.User(); user != nil {
			userID = user.ID
		}
		c.session.ClearSession()

		if result.Error == nil {
			result = Fail[AuthSession](ErrTokenExpired)
		}
		c.emit(ctx, ActivityEventSessionExpired, userID, result.Code(), nil)
		return Forward[LoginOutcome](result)
	}

	if err := c.session.SetSession(result.Data); err != nil {
		c.logger.Error("refresh returned an unusable session: %v", err)
		c.session.ClearSession()
		return Fail[LoginOutcome](ErrTokenExpired)
	}

	c.emit(ctx, ActivityEventSessionRefreshed, result.Data.User.ID, "", nil)
	return Ok(LoginOutcome{User: result.Data.User})
}

// RequestPasswordReset passes through to the provider, the session is untouched.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) Result[struct{}] {
	result := c.provider.SendPasswordResetEmail(ctx, email)
	c.emit(ctx, ActivityEventPasswordResetRequest, "", result.Code(), map[string]any{"email": MaskEmail(email)})
	return result
}

// ConfirmPasswordReset passes through to the provider, the session is untouched.
func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) Result[struct{}] {
	if err := ValidateNewPassword(newPassword); err != nil {
		return Fail[struct{}](err)
	}

	result := c.provider.ResetPassword(ctx, token, newPassword)
	c.emit(ctx, ActivityEventPasswordResetFinalize, "", result.Code(), nil)
	return result
}

func (c *Client) State() AuthState {
	return c.session.State()
}

func (c *Client) User() *AuthUser {
	return c.session.User()
}

func (c *Client) AccessToken() string {
	return c.session.AccessToken()
}

func (c *Client) IsAuthenticated() bool {
	return c.session.IsAuthenticated()
}

func (c *Client) IsLoading() bool {
	return c.session.IsLoading()
}

// Subscribe registers callback for every state transition.
func (c *Client) Subscribe(callback func(AuthState)) func() {
	return c.session.Subscribe(callback)
}

func (c *Client) emit(ctx context.Context, eventType ActivityEventType, userID string, code ErrorCode, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}

	event := ActivityEvent{
		EventType:  eventType,
		UserID:     userID,
		Code:       code,
		Metadata:   metadata,
		OccurredAt: c.now(),
	}

	sink := normalizeActivitySink(c.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink record error: %v", err)
	}
}
