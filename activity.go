package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-masker"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignupSuccess         ActivityEventType = "auth.signup.success"
	ActivityEventSignupFailure         ActivityEventType = "auth.signup.failure"
	ActivityEventLoginSuccess          ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure          ActivityEventType = "auth.login.failure"
	ActivityEventOAuthLogin            ActivityEventType = "auth.oauth.login"
	ActivityEventLogout                ActivityEventType = "auth.logout"
	ActivityEventSessionRefreshed      ActivityEventType = "auth.session.refreshed"
	ActivityEventSessionExpired        ActivityEventType = "auth.session.expired"
	ActivityEventPasswordResetRequest  ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetFinalize ActivityEventType = "auth.password.reset"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Code       ErrorCode
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best effort, errors are logged and never change auth outcomes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// MaskEmail keeps the first character of the local part and the domain,
// e.g. "a***@example.com". Activity metadata never carries a raw address.
func MaskEmail(email string) string {
	hidden, err := masker.Default.String("filled3", email)
	if err != nil {
		hidden = "***"
	}

	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" {
		return hidden
	}

	first := []rune(local)[:1]
	return string(first) + hidden + "@" + domain
}
