package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	// DefaultRefreshTTL matches the session cookie lifetime
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultResetTTL is how long a password reset link stays valid
	DefaultResetTTL = 24 * time.Hour
	// DefaultConfirmationTTL is how long an email confirmation link stays valid
	DefaultConfirmationTTL = 48 * time.Hour
)

// Option customizes a Service
type Option func(*Service)

// WithHasher overrides the bcrypt hasher
func WithHasher(h PasswordHasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithMailer sets the password reset mailer
func WithMailer(m Mailer) Option {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithLogger overrides the service logger
func WithLogger(logger auth.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithRefreshTTL sets the refresh token lifetime
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithResetTTL sets the password reset token lifetime
func WithResetTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithConfirmationTTL sets the email confirmation link lifetime
func WithConfirmationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.confirmTTL = ttl
		}
	}
}

// WithEmailConfirmation makes signup create unconfirmed accounts that get no
// tokens until the email address is confirmed.
func WithEmailConfirmation(required bool) Option {
	return func(s *Service) {
		s.requireConfirmation = required
	}
}

// Service is the identity backend behind the auth routes. Every operation
// returns an auth.Result so failures carry the shared error codes.
type Service struct {
	store               Store
	issuer              *auth.TokenIssuer
	hasher              PasswordHasher
	mailer              Mailer
	logger              auth.Logger
	now                 func() time.Time
	refreshTTL          time.Duration
	resetTTL            time.Duration
	confirmTTL          time.Duration
	requireConfirmation bool

	dummyOnce sync.Once
	dummy     string
}

// NewService creates the identity service
func NewService(store Store, issuer *auth.TokenIssuer, opts ...Option) *Service {
	s := &Service{
		store:      store,
		issuer:     issuer,
		hasher:     NewBcryptHasher(0),
		logger:     auth.NoopLogger{},
		now:        time.Now,
		refreshTTL: DefaultRefreshTTL,
		resetTTL:   DefaultResetTTL,
		confirmTTL: DefaultConfirmationTTL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.mailer == nil {
		s.mailer = LogMailer{Logger: s.logger}
	}

	return s
}

// Signup registers a user. Unless email confirmation is required the new
// session carries an access and a refresh token.
func (s *Service) Signup(ctx context.Context, input auth.SignupInput) auth.Result[auth.AuthSession] {
	if err := input.Validate(); err != nil {
		return auth.Fail[auth.AuthSession](err)
	}
	input = input.Normalize()

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return auth.Fail[auth.AuthSession](goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password"))
	}

	now := s.now()
	var session auth.AuthSession
	var confirmation *EmailConfirmation

	err = s.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.store.Users().GetByEmailTx(ctx, tx, input.Email); err == nil {
			return auth.NewError(auth.CodeEmailTaken, "An account with this email already exists")
		} else if !IsNotFound(err) {
			return err
		}

		user, err := s.store.Users().CreateTx(ctx, tx, &User{
			Email:           input.Email,
			Name:            input.Name,
			DefaultCurrency: input.DefaultCurrency,
			PasswordHash:    hash,
			EmailVerified:   !s.requireConfirmation,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			if isUniqueViolation(err) {
				return auth.NewError(auth.CodeEmailTaken, "An account with this email already exists")
			}
			return err
		}

		if s.requireConfirmation {
			session = auth.AuthSession{User: user.AuthUser()}
			confirmation, err = s.createConfirmationTx(ctx, tx, user)
			return err
		}

		session, err = s.issueSessionTx(ctx, tx, user)
		return err
	})

	if err != nil {
		return s.fail(err, "signup")
	}

	if confirmation != nil {
		s.sendConfirmation(ctx, session.User, confirmation)
	}

	s.logger.Info("user signed up: %s", session.User.ID)
	return auth.Ok(session)
}

// Login checks the credentials and opens a new session
func (s *Service) Login(ctx context.Context, input auth.LoginInput) auth.Result[auth.AuthSession] {
	if err := input.Validate(); err != nil {
		return auth.Fail[auth.AuthSession](err)
	}

	invalid := auth.NewError(auth.CodeInvalidCredentials, "Invalid email or password")

	user, err := s.store.Users().GetByEmail(ctx, input.Email)
	if err != nil {
		if !IsNotFound(err) {
			return s.fail(err, "login")
		}
		_ = s.hasher.Compare(input.Password, s.dummyHash())
		return auth.Fail[auth.AuthSession](invalid)
	}

	if err := s.hasher.Compare(input.Password, user.PasswordHash); err != nil {
		return auth.Fail[auth.AuthSession](invalid)
	}

	if !user.EmailVerified {
		return auth.Fail[auth.AuthSession](auth.NewError(auth.CodeInvalidCredentials, "Email address is not confirmed"))
	}

	var session auth.AuthSession
	err = s.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		session, err = s.issueSessionTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return s.fail(err, "login")
	}

	if err := s.store.Users().TrackLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("failed to track login for user %s: %v", user.ID, err)
	}

	return auth.Ok(session)
}

// Logout revokes the refresh token. Unknown or empty tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) auth.Result[struct{}] {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return auth.Ok(struct{}{})
	}

	err := s.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.store.RefreshTokens().GetByHashTx(ctx, tx, hashToken(refreshToken))
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		_, err = s.store.RefreshTokens().RevokeTx(ctx, tx, record.ID, s.now())
		return err
	})

	if err != nil {
		return s.failVoid(err, "logout")
	}

	return auth.Ok(struct{}{})
}

// Refresh exchanges a refresh token for a new session. The presented token is
// revoked, a token can only be exchanged once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) auth.Result[auth.AuthSession] {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return auth.Fail[auth.AuthSession](auth.NewError(auth.CodeTokenExpired, "No session found"))
	}

	expired := auth.NewError(auth.CodeTokenExpired, "Session expired")
	now := s.now()
	var session auth.AuthSession

	err := s.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.store.RefreshTokens().GetByHashTx(ctx, tx, hashToken(refreshToken))
		if err != nil {
			if IsNotFound(err) {
				return expired
			}
			return err
		}

		if !record.Usable(now) {
			return expired
		}

		revoked, err := s.store.RefreshTokens().RevokeTx(ctx, tx, record.ID, now)
		if err != nil {
			return err
		}
		if !revoked {
			return expired
		}

		user, err := s.store.Users().GetByIDTx(ctx, tx, record.UserID)
		if err != nil {
			if IsNotFound(err) {
				return expired
			}
			return err
		}

		session, err = s.issueSessionTx(ctx, tx, user)
		return err
	})

	if err != nil {
		return s.fail(err, "refresh")
	}

	return auth.Ok(session)
}

// GetUser returns the user with id, or Ok(nil) when there is none
func (s *Service) GetUser(ctx context.Context, id string) auth.Result[*auth.AuthUser] {
	user, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return auth.Ok[*auth.AuthUser](nil)
		}
		return s.failUser(err)
	}

	out := user.AuthUser()
	return auth.Ok(&out)
}

func (s *Service) failUser(err error) auth.Result[*auth.AuthUser] {
	s.logger.Error("identity get user failed: %v", err)
	return auth.Fail[*auth.AuthUser](err)
}

// ForgotPassword mails a reset link when the account exists. The result does
// not reveal whether it does.
func (s *Service) ForgotPassword(ctx context.Context, email string) auth.Result[struct{}] {
	if err := auth.ValidateEmail(email); err != nil {
		return auth.Fail[struct{}](err)
	}

	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Error("forgot password lookup failed: %v", err)
		}
		return auth.Ok(struct{}{})
	}

	now := s.now()
	reset := &PasswordReset{
		UserID:    user.ID,
		Email:     user.Email,
		Status:    ResetRequestedStatus,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}

	err = s.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		reset, err = s.store.PasswordResets().CreateTx(ctx, tx, reset)
		return err
	})
	if err != nil {
		s.logger.Error("failed to store password reset for %s: %v", user.ID, err)
		return auth.Ok(struct{}{})
	}

	mail := PasswordResetMail{
		Email:     user.Email,
		Name:      user.Name,
		Token:     reset.ID.String(),
		ExpiresAt: reset.ExpiresAt,
	}
	if err := s.mailer.SendPasswordReset(ctx, mail); err != nil {
		s.logger.Error("failed to send password reset mail to %s: %v", user.ID, err)
	}

	return auth.Ok(struct{}{})
}

// ResetPassword sets a new password with a reset token. Tokens are single use
// and expire, a successful reset revokes every refresh token of the user.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) auth.Result[struct{}] {
	if err := auth.ValidateNewPassword(newPassword); err != nil {
		return auth.Fail[struct{}](err)
	}

	invalid := auth.NewError(auth.CodeTokenExpired, "Reset link is invalid or has expired")

	reset, err := s.store.PasswordResets().GetByID(ctx, strings.TrimSpace(token))
	if err != nil {
		if IsNotFound(err) {
			return auth.Fail[struct{}](invalid)
		}
		return s.failVoid(err, "reset password")
	}

	now := s.now()
	if reset.Status != ResetRequestedStatus || !now.Before(reset.ExpiresAt) {
		return auth.Fail[struct{}](invalid)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.failVoid(goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password"), "reset password")
	}

	err = s.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		marked, err := s.store.PasswordResets().MarkResetTx(ctx, tx, reset.ID, now)
		if err != nil {
			return err
		}
		if !marked {
			return invalid
		}

		if err := s.store.Users().UpdatePasswordTx(ctx, tx, reset.UserID, hash, now); err != nil {
			return err
		}

		return s.store.RefreshTokens().RevokeAllForUserTx(ctx, tx, reset.UserID, now)
	})

	if err != nil {
		return s.failVoid(err, "reset password")
	}

	s.logger.Info("password reset for user %s", reset.UserID)
	return auth.Ok(struct{}{})
}

// ConfirmEmail marks the address behind a confirmation token as verified and
// opens a session. Tokens are single use and expire.
func (s *Service) ConfirmEmail(ctx context.Context, token string) auth.Result[auth.AuthSession] {
	invalid := auth.NewError(auth.CodeTokenExpired, "Confirmation link is invalid or has expired")

	confirmation, err := s.store.EmailConfirmations().GetByID(ctx, strings.TrimSpace(token))
	if err != nil {
		if IsNotFound(err) {
			return auth.Fail[auth.AuthSession](invalid)
		}
		return s.fail(err, "confirm email")
	}

	now := s.now()
	if !confirmation.Pending(now) {
		return auth.Fail[auth.AuthSession](invalid)
	}

	var session auth.AuthSession
	err = s.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		marked, err := s.store.EmailConfirmations().MarkConfirmedTx(ctx, tx, confirmation.ID, now)
		if err != nil {
			return err
		}
		if !marked {
			return invalid
		}

		if err := s.store.Users().MarkEmailVerifiedTx(ctx, tx, confirmation.UserID, now); err != nil {
			if IsNotFound(err) {
				return invalid
			}
			return err
		}

		user, err := s.store.Users().GetByIDTx(ctx, tx, confirmation.UserID)
		if err != nil {
			return err
		}

		session, err = s.issueSessionTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return s.fail(err, "confirm email")
	}

	s.logger.Info("email confirmed for user %s", confirmation.UserID)
	return auth.Ok(session)
}

// ResendConfirmation mails a new confirmation link to an unconfirmed account.
// Like ForgotPassword the result does not reveal whether the account exists.
func (s *Service) ResendConfirmation(ctx context.Context, email string) auth.Result[struct{}] {
	if err := auth.ValidateEmail(email); err != nil {
		return auth.Fail[struct{}](err)
	}

	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Error("resend confirmation lookup failed: %v", err)
		}
		return auth.Ok(struct{}{})
	}

	if user.EmailVerified {
		return auth.Ok(struct{}{})
	}

	var confirmation *EmailConfirmation
	err = s.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		confirmation, err = s.createConfirmationTx(ctx, tx, user)
		return err
	})
	if err != nil {
		s.logger.Error("failed to store email confirmation for %s: %v", user.ID, err)
		return auth.Ok(struct{}{})
	}

	s.sendConfirmation(ctx, user.AuthUser(), confirmation)
	return auth.Ok(struct{}{})
}

func (s *Service) createConfirmationTx(ctx context.Context, tx bun.IDB, user *User) (*EmailConfirmation, error) {
	now := s.now()
	confirmation := &EmailConfirmation{
		ID:        uuid.New(),
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: now.Add(s.confirmTTL),
		CreatedAt: now,
	}
	if err := s.store.EmailConfirmations().CreateTx(ctx, tx, confirmation); err != nil {
		return nil, err
	}
	return confirmation, nil
}

func (s *Service) sendConfirmation(ctx context.Context, user auth.AuthUser, confirmation *EmailConfirmation) {
	mail := EmailConfirmationMail{
		Email:     user.Email,
		Name:      user.Name,
		Token:     confirmation.ID.String(),
		ExpiresAt: confirmation.ExpiresAt,
	}
	if err := s.mailer.SendEmailConfirmation(ctx, mail); err != nil {
		s.logger.Error("failed to send confirmation mail to %s: %v", user.ID, err)
	}
}

func (s *Service) issueSessionTx(ctx context.Context, tx bun.IDB, user *User) (auth.AuthSession, error) {
	authUser := user.AuthUser()

	accessToken, expiresAt, err := s.issuer.Issue(authUser)
	if err != nil {
		return auth.AuthSession{}, err
	}

	refreshToken, err := newOpaqueToken()
	if err != nil {
		return auth.AuthSession{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh token")
	}

	now := s.now()
	err = s.store.RefreshTokens().CreateTx(ctx, tx, &RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	})
	if err != nil {
		return auth.AuthSession{}, err
	}

	return auth.AuthSession{
		User:         authUser,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt.Unix(),
	}, nil
}

func (s *Service) fail(err error, op string) auth.Result[auth.AuthSession] {
	s.logIfUnexpected(err, op)
	return auth.Fail[auth.AuthSession](err)
}

func (s *Service) failVoid(err error, op string) auth.Result[struct{}] {
	s.logIfUnexpected(err, op)
	return auth.Fail[struct{}](err)
}

func (s *Service) logIfUnexpected(err error, op string) {
	if auth.CodeOf(err) == auth.CodeUnknown {
		s.logger.Error("identity %s failed: %v", op, err)
	}
}

func (s *Service) dummyHash() string {
	s.dummyOnce.Do(func() {
		s.dummy = dummyHash(s.hasher)
	})
	return s.dummy
}

func newOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
