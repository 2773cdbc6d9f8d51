package auth

import "context"

// Provider is the only component allowed to talk to the remote identity
// service. Implementations translate remote responses into Results and never
// panic across this boundary.
type Provider interface {
	Signup(ctx context.Context, input SignupInput) Result[AuthSession]
	Login(ctx context.Context, input LoginInput) Result[AuthSession]
	// Logout must clear local provider credentials even if the remote call
	// fails. It may still report the remote failure.
	Logout(ctx context.Context) Result[struct{}]

	// GetSession returns Ok(nil) when there is no session
	GetSession(ctx context.Context) Result[*AuthSession]
	RefreshSession(ctx context.Context) Result[AuthSession]

	SendPasswordResetEmail(ctx context.Context, email string) Result[struct{}]
	ResetPassword(ctx context.Context, token, newPassword string) Result[struct{}]
}

// OAuthLoginer is an optional Provider capability. Providers that do not
// implement it do not support OAuth.
type OAuthLoginer interface {
	LoginWithOAuth(ctx context.Context, provider OAuthProvider) Result[AuthSession]
}
