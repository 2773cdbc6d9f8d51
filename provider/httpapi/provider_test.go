package httpapi_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-budget-auth/authapi"
	"github.com/goliatone/go-budget-auth/identity"
	"github.com/goliatone/go-budget-auth/provider/httpapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

var signingKey = []byte("httpapi-test-secret")

type outbox struct {
	mu            sync.Mutex
	mails         []identity.PasswordResetMail
	confirmations []identity.EmailConfirmationMail
}

func (o *outbox) SendEmailConfirmation(_ context.Context, mail identity.EmailConfirmationMail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.confirmations = append(o.confirmations, mail)
	return nil
}

func (o *outbox) lastConfirmation(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.confirmations)
	return o.confirmations[len(o.confirmations)-1].Token
}

func (o *outbox) SendPasswordReset(_ context.Context, mail identity.PasswordResetMail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mails = append(o.mails, mail)
	return nil
}

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.mails)
	return o.mails[len(o.mails)-1].Token
}

// newAuthServer runs the auth API over an in memory identity store
func newAuthServer(t *testing.T, opts ...identity.Option) (*httptest.Server, *outbox) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, identity.Migrate(context.Background(), db))

	mails := &outbox{}
	base := []identity.Option{
		identity.WithHasher(identity.NewBcryptHasher(bcrypt.MinCost)),
		identity.WithMailer(mails),
	}
	service := identity.NewService(
		identity.NewStore(db),
		auth.NewTokenIssuer(signingKey),
		append(base, opts...)...,
	)

	verifier, err := auth.NewTokenVerifier(auth.WithVerifierSigningKey(signingKey))
	require.NoError(t, err)

	app := authapi.NewApp(authapi.NewController(service, verifier))
	server := httptest.NewServer(adaptor.FiberApp(app))

	t.Cleanup(func() {
		server.Close()
		_ = db.Close()
	})

	return server, mails
}

func newContainer(t *testing.T, baseURL string, client *http.Client) *auth.Container {
	t.Helper()
	container, err := httpapi.NewWebContainer(httpapi.Config{
		BaseURL:    baseURL,
		HTTPClient: client,
		Logger:     auth.NoopLogger{},
	})
	require.NoError(t, err)
	return container
}

func signup(t *testing.T, c *auth.Client) auth.AuthUser {
	t.Helper()
	res := c.Signup(context.Background(), auth.SignupInput{
		Email:    "ada@example.com",
		Password: "correct-horse",
		Name:     "Ada",
	})
	require.True(t, res.Success, "signup failed: %+v", res.Error)
	return res.Data.User
}

func TestWebContainerSessionLifecycle(t *testing.T) {
	server, _ := newAuthServer(t)
	ctx := context.Background()

	container := newContainer(t, server.URL, nil)
	c := container.Client
	c.Initialize(ctx)
	assert.Equal(t, auth.StatusUnauthenticated, c.State().Status)

	user := signup(t, c)
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, user.ID, c.User().ID)
	assert.NotEmpty(t, c.AccessToken())

	logout := c.Logout(ctx)
	require.True(t, logout.Success)
	assert.False(t, c.IsAuthenticated())

	login := c.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "correct-horse"})
	require.True(t, login.Success)
	assert.True(t, c.IsAuthenticated())

	before := c.AccessToken()
	refreshed := c.RefreshSession(ctx)
	require.True(t, refreshed.Success, "refresh failed: %+v", refreshed.Error)
	assert.True(t, c.IsAuthenticated())
	assert.NotEqual(t, before, c.AccessToken())
}

func TestWebContainerRestoresSessionFromCookie(t *testing.T) {
	server, _ := newAuthServer(t)
	ctx := context.Background()

	shared := &http.Client{Timeout: 5 * time.Second}
	first := newContainer(t, server.URL, shared)
	user := signup(t, first.Client)

	second := newContainer(t, server.URL, shared)
	second.Client.Initialize(ctx)

	require.True(t, second.Client.IsAuthenticated())
	assert.Equal(t, user.ID, second.Client.User().ID)
	assert.Equal(t, "Ada", second.Client.User().Name)
}

func TestWebContainerRejectedLogin(t *testing.T) {
	server, _ := newAuthServer(t)
	ctx := context.Background()

	c := newContainer(t, server.URL, nil).Client
	c.Initialize(ctx)

	res := c.Login(ctx, auth.LoginInput{Email: "nobody@example.com", Password: "correct-horse"})
	require.False(t, res.Success)
	assert.Equal(t, auth.CodeInvalidCredentials, res.Code())
	assert.Equal(t, auth.StatusUnauthenticated, c.State().Status)
}

func TestWebContainerSignupEmailTaken(t *testing.T) {
	server, _ := newAuthServer(t)

	c := newContainer(t, server.URL, nil).Client
	signup(t, c)

	res := c.Signup(context.Background(), auth.SignupInput{
		Email:    "ada@example.com",
		Password: "correct-horse",
		Name:     "Ada again",
	})
	require.False(t, res.Success)
	assert.Equal(t, auth.CodeEmailTaken, res.Code())
}

func TestWebContainerPasswordReset(t *testing.T) {
	server, mails := newAuthServer(t)
	ctx := context.Background()

	c := newContainer(t, server.URL, nil).Client
	signup(t, c)
	require.True(t, c.Logout(ctx).Success)

	require.True(t, c.RequestPasswordReset(ctx, "ada@example.com").Success)
	require.True(t, c.RequestPasswordReset(ctx, "nobody@example.com").Success)

	reset := c.ConfirmPasswordReset(ctx, mails.lastToken(t), "a-new-password")
	require.True(t, reset.Success, "reset failed: %+v", reset.Error)

	reused := c.ConfirmPasswordReset(ctx, mails.lastToken(t), "another-password")
	assert.Equal(t, auth.CodeTokenExpired, reused.Code())

	login := c.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "a-new-password"})
	assert.True(t, login.Success)
}

func TestSignupPendingConfirmationKeepsPreviousSession(t *testing.T) {
	aliceCookie, err := auth.EncodeSessionCookie(auth.SessionTokens{AccessToken: "token-of-alice", RefreshToken: "refresh-of-alice"})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			http.SetCookie(w, &http.Cookie{Name: auth.SessionCookieName, Value: aliceCookie, Path: "/", HttpOnly: true})
			_, _ = w.Write([]byte(`{"user":{"id":"alice","email":"alice@example.com"}}`))
		case "/auth/signup":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"user":{"id":"bob","email":"bob@example.com"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	c := newContainer(t, server.URL, nil).Client

	login := c.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "correct-horse"})
	require.True(t, login.Success, "login failed: %+v", login.Error)
	require.Equal(t, "token-of-alice", c.AccessToken())

	res := c.Signup(ctx, auth.SignupInput{Email: "bob@example.com", Password: "correct-horse", Name: "Bob"})
	require.True(t, res.Success)
	assert.True(t, res.Data.RequiresConfirmation)
	assert.Equal(t, "bob", res.Data.User.ID)

	require.NotNil(t, c.User())
	assert.Equal(t, "alice", c.User().ID)
	assert.Equal(t, "token-of-alice", c.AccessToken())
}

func TestWebContainerEmailConfirmation(t *testing.T) {
	server, mails := newAuthServer(t, identity.WithEmailConfirmation(true))
	ctx := context.Background()

	container := newContainer(t, server.URL, nil)
	c := container.Client
	c.Initialize(ctx)

	res := c.Signup(ctx, auth.SignupInput{Email: "ada@example.com", Password: "correct-horse", Name: "Ada"})
	require.True(t, res.Success, "signup failed: %+v", res.Error)
	assert.True(t, res.Data.RequiresConfirmation)
	assert.False(t, c.IsAuthenticated())

	login := c.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "correct-horse"})
	assert.Equal(t, auth.CodeInvalidCredentials, login.Code())

	p := container.Provider.(*httpapi.Provider)
	require.True(t, p.ResendConfirmation(ctx, "ada@example.com").Success)

	confirmed := p.ConfirmEmail(ctx, mails.lastConfirmation(t))
	require.True(t, confirmed.Success, "confirm failed: %+v", confirmed.Error)
	require.NoError(t, container.Session.SetSession(confirmed.Data))
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, res.Data.User.ID, c.User().ID)

	require.True(t, c.Logout(ctx).Success)
	login = c.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "correct-horse"})
	assert.True(t, login.Success, "login failed: %+v", login.Error)
}

func TestLogoutClearsLocalCookieWhenServerIsDown(t *testing.T) {
	server, _ := newAuthServer(t)
	ctx := context.Background()

	container := newContainer(t, server.URL, nil)
	signup(t, container.Client)
	require.True(t, container.Client.IsAuthenticated())

	server.Close()

	res := container.Client.Logout(ctx)
	require.False(t, res.Success)
	assert.Equal(t, auth.CodeNetworkFailure, res.Code())
	assert.Equal(t, auth.StatusUnauthenticated, container.Client.State().Status)

	session := container.Provider.GetSession(ctx)
	require.True(t, session.Success)
	assert.Nil(t, session.Data)
}

func TestProviderErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"invalid_credentials","message":"Invalid email or password"}}`))
		case "/auth/signup":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"SOMETHING_NEW","message":"nope"}}`))
		case "/auth/forgot-password":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p, err := httpapi.New(httpapi.Config{BaseURL: server.URL + "/"})
	require.NoError(t, err)
	ctx := context.Background()

	login := p.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "x"})
	assert.Equal(t, auth.CodeInvalidCredentials, login.Code())
	assert.Equal(t, "Invalid email or password", login.Error.Message)

	created := p.Signup(ctx, auth.SignupInput{Email: "ada@example.com"})
	assert.Equal(t, auth.CodeUnknown, created.Code())
	assert.Equal(t, "nope", created.Error.Message)

	forgot := p.SendPasswordResetEmail(ctx, "ada@example.com")
	assert.Equal(t, auth.CodeUnknown, forgot.Code())
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), forgot.Error.Message)

	session := p.GetSession(ctx)
	require.True(t, session.Success)
	assert.Nil(t, session.Data)
}

func TestProviderNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	p, err := httpapi.New(httpapi.Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	res := p.Login(context.Background(), auth.LoginInput{Email: "ada@example.com", Password: "x"})
	assert.Equal(t, auth.CodeNetworkFailure, res.Code())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = p.Login(ctx, auth.LoginInput{Email: "ada@example.com", Password: "x"})
	assert.Equal(t, auth.CodeNetworkFailure, res.Code())
}

func TestProviderConfigValidation(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "/relative"} {
		_, err := httpapi.New(httpapi.Config{BaseURL: raw})
		assert.Error(t, err, raw)
		assert.Equal(t, auth.CodeInvalidInput, auth.CodeOf(err))
	}
}
