package auth_test

import (
	"context"
	"sync"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements auth.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Signup(ctx context.Context, input auth.SignupInput) auth.Result[auth.AuthSession] {
	args := m.Called(ctx, input)
	return args.Get(0).(auth.Result[auth.AuthSession])
}

func (m *MockProvider) Login(ctx context.Context, input auth.LoginInput) auth.Result[auth.AuthSession] {
	args := m.Called(ctx, input)
	return args.Get(0).(auth.Result[auth.AuthSession])
}

func (m *MockProvider) Logout(ctx context.Context) auth.Result[struct{}] {
	args := m.Called(ctx)
	return args.Get(0).(auth.Result[struct{}])
}

func (m *MockProvider) GetSession(ctx context.Context) auth.Result[*auth.AuthSession] {
	args := m.Called(ctx)
	return args.Get(0).(auth.Result[*auth.AuthSession])
}

func (m *MockProvider) RefreshSession(ctx context.Context) auth.Result[auth.AuthSession] {
	args := m.Called(ctx)
	return args.Get(0).(auth.Result[auth.AuthSession])
}

func (m *MockProvider) SendPasswordResetEmail(ctx context.Context, email string) auth.Result[struct{}] {
	args := m.Called(ctx, email)
	return args.Get(0).(auth.Result[struct{}])
}

func (m *MockProvider) ResetPassword(ctx context.Context, token, newPassword string) auth.Result[struct{}] {
	args := m.Called(ctx, token, newPassword)
	return args.Get(0).(auth.Result[struct{}])
}

// MockOAuthProvider adds the optional OAuth capability
type MockOAuthProvider struct {
	MockProvider
}

func (m *MockOAuthProvider) LoginWithOAuth(ctx context.Context, provider auth.OAuthProvider) auth.Result[auth.AuthSession] {
	args := m.Called(ctx, provider)
	return args.Get(0).(auth.Result[auth.AuthSession])
}

// stateRecorder collects every state delivered to a subscriber
type stateRecorder struct {
	mu     sync.Mutex
	states []auth.AuthState
}

func (r *stateRecorder) record(state auth.AuthState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) statuses() []auth.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.Status, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Status)
	}
	return out
}

func (r *stateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) types() []auth.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestSession(id, token string) auth.AuthSession {
	return auth.AuthSession{
		User: auth.AuthUser{
			ID:    id,
			Email: id + "@example.com",
			Name:  "User " + id,
		},
		AccessToken:  token,
		RefreshToken: "refresh-" + token,
	}
}

func noSession() auth.Result[*auth.AuthSession] {
	return auth.Ok[*auth.AuthSession](nil)
}

func sessionResult(s auth.AuthSession) auth.Result[*auth.AuthSession] {
	return auth.Ok(&s)
}

func newTestManager(provider auth.Provider, opts ...auth.SessionManagerOption) *auth.SessionManager {
	opts = append([]auth.SessionManagerOption{auth.WithSessionLogger(auth.NoopLogger{})}, opts...)
	return auth.NewSessionManager(provider, opts...)
}
