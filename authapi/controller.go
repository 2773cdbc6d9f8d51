package authapi

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	auth "github.com/goliatone/go-budget-auth"
)

// Identity is the account backend behind the routes. *identity.Service
// implements it.
type Identity interface {
	Signup(ctx context.Context, input auth.SignupInput) auth.Result[auth.AuthSession]
	Login(ctx context.Context, input auth.LoginInput) auth.Result[auth.AuthSession]
	Logout(ctx context.Context, refreshToken string) auth.Result[struct{}]
	Refresh(ctx context.Context, refreshToken string) auth.Result[auth.AuthSession]
	GetUser(ctx context.Context, id string) auth.Result[*auth.AuthUser]
	ForgotPassword(ctx context.Context, email string) auth.Result[struct{}]
	ResetPassword(ctx context.Context, token, newPassword string) auth.Result[struct{}]
	ConfirmEmail(ctx context.Context, token string) auth.Result[auth.AuthSession]
	ResendConfirmation(ctx context.Context, email string) auth.Result[struct{}]
}

// Verifier checks access tokens. *auth.TokenVerifier implements it.
type Verifier interface {
	Verify(token string) auth.Result[auth.VerifiedToken]
}

// Routes holds the route paths, relative to the group prefix
type Routes struct {
	Health         string
	Signup         string
	Login          string
	Logout         string
	Refresh        string
	Me             string
	ForgotPassword     string
	ResetPassword      string
	ConfirmEmail       string
	ResendConfirmation string
}

// ForgotPasswordPayload is the forgot password request body
type ForgotPasswordPayload struct {
	Email string `json:"email"`
}

// ResetPasswordPayload is the reset password request body
type ResetPasswordPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ConfirmEmailPayload is the email confirmation request body
type ConfirmEmailPayload struct {
	Token string `json:"token"`
}

// Option customizes the Controller
type Option func(*Controller)

// WithCookieOptions overrides the session cookie settings
func WithCookieOptions(opts CookieOptions) Option {
	return func(a *Controller) {
		a.Cookie = opts.normalize()
	}
}

// WithCookieDomain sets the cookie domain. Secure and Domain are only applied
// for non local domains.
func WithCookieDomain(domain string) Option {
	return func(a *Controller) {
		a.Cookie.Domain = strings.TrimSpace(domain)
	}
}

// WithLogger sets the controller logger
func WithLogger(logger auth.Logger) Option {
	return func(a *Controller) {
		if logger != nil {
			a.Logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(a *Controller) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithRateLimit limits signup, login and password reset requests per client
// IP. A max of zero disables it.
func WithRateLimit(max int, window time.Duration) Option {
	return func(a *Controller) {
		a.rateMax = max
		a.rateWindow = window
	}
}

// Controller serves the auth routes
type Controller struct {
	Identity Identity
	Verifier Verifier
	Logger   auth.Logger
	Routes   *Routes
	Cookie   CookieOptions

	now        func() time.Time
	rateMax    int
	rateWindow time.Duration
}

// NewController creates the auth routes controller
func NewController(identity Identity, verifier Verifier, opts ...Option) *Controller {
	a := &Controller{
		Identity: identity,
		Verifier: verifier,
		Logger:   auth.NoopLogger{},
		Cookie:   CookieOptions{}.normalize(),
		now:      time.Now,
		Routes: &Routes{
			Health:         "/",
			Signup:         "/signup",
			Login:          "/login",
			Logout:         "/logout",
			Refresh:        "/refresh",
			Me:             "/me",
			ForgotPassword:     "/forgot-password",
			ResetPassword:      "/reset-password",
			ConfirmEmail:       "/confirm-email",
			ResendConfirmation: "/resend-confirmation",
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// Register mounts the routes on r
func (a *Controller) Register(r fiber.Router) {
	sensitive := a.limiter()

	r.Get(a.Routes.Health, a.Health)
	r.Post(a.Routes.Signup, sensitive, a.Signup)
	r.Post(a.Routes.Login, sensitive, a.Login)
	r.Post(a.Routes.Logout, a.Logout)
	r.Post(a.Routes.Refresh, a.Refresh)
	r.Get(a.Routes.Me, a.Me)
	r.Post(a.Routes.ForgotPassword, sensitive, a.ForgotPassword)
	r.Post(a.Routes.ResetPassword, sensitive, a.ResetPassword)
	r.Post(a.Routes.ConfirmEmail, sensitive, a.ConfirmEmail)
	r.Post(a.Routes.ResendConfirmation, sensitive, a.ResendConfirmation)
}

func (a *Controller) limiter() fiber.Handler {
	if a.rateMax <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	window := a.rateWindow
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        a.rateMax,
		Expiration: window,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": auth.AuthError{Code: auth.CodeUnknown, Message: "Too many requests"},
			})
		},
	})
}

// Health answers the liveness probe
func (a *Controller) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Signup creates an account. The cookie is only set when tokens were issued,
// accounts pending email confirmation get none.
func (a *Controller) Signup(c *fiber.Ctx) error {
	var payload auth.SignupInput
	if err := c.BodyParser(&payload); err != nil {
		return a.invalidBody(c)
	}

	if err := payload.Validate(); err != nil {
		return a.fail(c, fiber.StatusBadRequest, auth.Fail[struct{}](err).Error)
	}

	res := a.Identity.Signup(c.UserContext(), payload)
	if !res.Success {
		return a.fail(c, fiber.StatusBadRequest, res.Error)
	}

	if res.Data.AccessToken == "" {
		// a session of another account must not survive a pending signup
		a.Cookie.clearSessionCookie(c)
	} else if err := a.Cookie.setSessionCookie(c, res.Data, a.now()); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": res.Data.User})
}

// Login opens a session
func (a *Controller) Login(c *fiber.Ctx) error {
	var payload auth.LoginInput
	if err := c.BodyParser(&payload); err != nil {
		return a.invalidBody(c)
	}

	if err := payload.Validate(); err != nil {
		return a.fail(c, fiber.StatusBadRequest, auth.Fail[struct{}](err).Error)
	}

	res := a.Identity.Login(c.UserContext(), payload)
	if !res.Success {
		return a.fail(c, fiber.StatusUnauthorized, res.Error)
	}

	if err := a.Cookie.setSessionCookie(c, res.Data, a.now()); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"user": res.Data.User})
}

// Logout revokes the refresh token and always clears the cookie
func (a *Controller) Logout(c *fiber.Ctx) error {
	if tokens, ok := a.Cookie.sessionTokens(c); ok {
		if res := a.Identity.Logout(c.UserContext(), tokens.RefreshToken); !res.Success {
			a.Logger.Warn("logout failed to revoke refresh token: %s", res.Error.Message)
		}
	}

	a.Cookie.clearSessionCookie(c)
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// Refresh rotates the session tokens stored in the cookie
func (a *Controller) Refresh(c *fiber.Ctx) error {
	tokens, ok := a.Cookie.sessionTokens(c)
	if !ok {
		return a.fail(c, fiber.StatusUnauthorized, &auth.AuthError{
			Code:    auth.CodeTokenExpired,
			Message: "No session found",
		})
	}

	res := a.Identity.Refresh(c.UserContext(), tokens.RefreshToken)
	if !res.Success {
		a.Cookie.clearSessionCookie(c)
		return a.fail(c, fiber.StatusUnauthorized, res.Error)
	}

	if err := a.Cookie.setSessionCookie(c, res.Data, a.now()); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "Session refreshed",
		"user":    res.Data.User,
	})
}

// Me verifies the cookie access token and returns its user
func (a *Controller) Me(c *fiber.Ctx) error {
	tokens, ok := a.Cookie.sessionTokens(c)
	if !ok {
		return a.fail(c, fiber.StatusUnauthorized, &auth.AuthError{
			Code:    auth.CodeNotAuthenticated,
			Message: "Unauthorized",
		})
	}

	verified := a.Verifier.Verify(tokens.AccessToken)
	if !verified.Success {
		a.Cookie.clearSessionCookie(c)
		return a.fail(c, fiber.StatusUnauthorized, verified.Error)
	}

	user := auth.AuthUser{ID: verified.Data.UserID, Email: verified.Data.Email}

	profile := a.Identity.GetUser(c.UserContext(), verified.Data.UserID)
	switch {
	case !profile.Success:
		a.Logger.Warn("failed to load profile for user %s: %s", user.ID, profile.Error.Message)
	case profile.Data == nil:
		a.Cookie.clearSessionCookie(c)
		return a.fail(c, fiber.StatusUnauthorized, &auth.AuthError{
			Code:    auth.CodeNotAuthenticated,
			Message: "Session expired",
		})
	default:
		user = *profile.Data
	}

	return c.JSON(fiber.Map{"user": user})
}

// ForgotPassword always succeeds so callers cannot probe for accounts
func (a *Controller) ForgotPassword(c *fiber.Ctx) error {
	var payload ForgotPasswordPayload
	if err := c.BodyParser(&payload); err != nil {
		return a.invalidBody(c)
	}

	if err := auth.ValidateEmail(payload.Email); err != nil {
		return a.fail(c, fiber.StatusBadRequest, auth.Fail[struct{}](err).Error)
	}

	if res := a.Identity.ForgotPassword(c.UserContext(), payload.Email); !res.Success {
		a.Logger.Warn("forgot password failed: %s", res.Error.Message)
	}

	return c.JSON(fiber.Map{"message": "If an account exists, a password reset email has been sent"})
}

// ResetPassword finalizes a password reset
func (a *Controller) ResetPassword(c *fiber.Ctx) error {
	var payload ResetPasswordPayload
	if err := c.BodyParser(&payload); err != nil {
		return a.invalidBody(c)
	}

	if strings.TrimSpace(payload.Token) == "" {
		return a.fail(c, fiber.StatusBadRequest, &auth.AuthError{
			Code:    auth.CodeInvalidInput,
			Message: "invalid input: token: cannot be blank.",
		})
	}

	if err := auth.ValidateNewPassword(payload.NewPassword); err != nil {
		return a.fail(c, fiber.StatusBadRequest, auth.Fail[struct{}](err).Error)
	}

	res := a.Identity.ResetPassword(c.UserContext(), payload.Token, payload.NewPassword)
	if !res.Success {
		return a.fail(c, fiber.StatusBadRequest, res.Error)
	}

	return c.JSON(fiber.Map{"message": "Password reset successfully"})
}

// ConfirmEmail verifies the address of a pending account and opens a session
func (a *Controller) ConfirmEmail(c *fiber.Ctx) error {
	var payload ConfirmEmailPayload
	if err := c.BodyParser(&payload); err != nil {
		return a.invalidBody(c)
	}

	if strings.TrimSpace(payload.Token) == "" {
		return a.fail(c, fiber.StatusBadRequest, &auth.AuthError{
			Code:    auth.CodeInvalidInput,
			Message: "invalid input: token: cannot be blank.",
		})
	}

	res := a.Identity.ConfirmEmail(c.UserContext(), payload.Token)
	if !res.Success {
		return a.fail(c, fiber.StatusBadRequest, res.Error)
	}

	if err := a.Cookie.setSessionCookie(c, res.Data, a.now()); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"user": res.Data.User})
}

// ResendConfirmation answers 200 for any well formed email
func (a *Controller) ResendConfirmation(c *fiber.Ctx) error {
	var payload ForgotPasswordPayload
	if err := c.BodyParser(&payload); err != nil {
		return a.invalidBody(c)
	}

	if err := auth.ValidateEmail(payload.Email); err != nil {
		return a.fail(c, fiber.StatusBadRequest, auth.Fail[struct{}](err).Error)
	}

	if res := a.Identity.ResendConfirmation(c.UserContext(), payload.Email); !res.Success {
		a.Logger.Warn("resend confirmation failed: %s", res.Error.Message)
	}

	return c.JSON(fiber.Map{"message": "If the account is awaiting confirmation, an email has been sent"})
}

func (a *Controller) invalidBody(c *fiber.Ctx) error {
	return a.fail(c, fiber.StatusBadRequest, &auth.AuthError{
		Code:    auth.CodeInvalidInput,
		Message: "invalid request body",
	})
}

func (a *Controller) fail(c *fiber.Ctx, status int, authErr *auth.AuthError) error {
	if authErr == nil {
		authErr = &auth.AuthError{Code: auth.CodeUnknown, Message: "request failed"}
	}
	return c.Status(status).JSON(fiber.Map{"error": authErr})
}
