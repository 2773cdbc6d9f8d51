package identity

import (
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel   `bun:"table:users,alias:usr"`
	ID              uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email           string     `bun:"email,notnull,unique" json:"email"`
	Name            string     `bun:"name,notnull" json:"name"`
	DefaultCurrency string     `bun:"default_currency,notnull" json:"default_currency"`
	PasswordHash    string     `bun:"password_hash,notnull" json:"-"`
	EmailVerified   bool       `bun:"is_email_verified,notnull" json:"is_email_verified"`
	LoggedInAt      *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// AuthUser converts the record into the public user shape
func (u *User) AuthUser() auth.AuthUser {
	if u == nil {
		return auth.AuthUser{}
	}
	return auth.AuthUser{
		ID:              u.ID.String(),
		Email:           u.Email,
		Name:            u.Name,
		DefaultCurrency: u.DefaultCurrency,
		CreatedAt:       u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// RefreshToken is an opaque, single use refresh credential. Only the SHA-256
// of the token is stored.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rtk"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// Usable reports whether the token can still be exchanged at now
func (t *RefreshToken) Usable(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

const (
	// ResetRequestedStatus is the requested status
	ResetRequestedStatus = "requested"
	// ResetChangedStatus is the changed status
	ResetChangedStatus = "changed"
)

// PasswordReset is a password reset request. Its ID is the token mailed to
// the user.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_resets,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Email         string     `bun:"email,notnull" json:"email"`
	Status        string     `bun:"status,notnull" json:"status"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	ResetAt       *time.Time `bun:"reset_at,nullzero" json:"reset_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// EmailConfirmation is a pending address confirmation. Its ID is the token
// mailed to the user.
type EmailConfirmation struct {
	bun.BaseModel `bun:"table:email_confirmations,alias:emc"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Email         string     `bun:"email,notnull" json:"email"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	ConfirmedAt   *time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// Pending reports whether the confirmation can still be used at now
func (c *EmailConfirmation) Pending(now time.Time) bool {
	return c != nil && c.ConfirmedAt == nil && now.Before(c.ExpiresAt)
}
