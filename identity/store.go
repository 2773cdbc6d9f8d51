package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Store groups the identity repositories behind one transaction boundary
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	PasswordResets() PasswordResets
	EmailConfirmations() EmailConfirmations
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

// Users persists user accounts
type Users interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) error
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
	TrackLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// RefreshTokens persists hashed refresh tokens
type RefreshTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, token *RefreshToken) error
	GetByHashTx(ctx context.Context, tx bun.IDB, hash string) (*RefreshToken, error)
	RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error)
	RevokeAllForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, at time.Time) error
}

// PasswordResets persists password reset requests
type PasswordResets interface {
	GetByID(ctx context.Context, id string) (*PasswordReset, error)
	CreateTx(ctx context.Context, tx bun.IDB, reset *PasswordReset) (*PasswordReset, error)
	MarkResetTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error)
}

// EmailConfirmations persists pending email address confirmations
type EmailConfirmations interface {
	GetByID(ctx context.Context, id string) (*EmailConfirmation, error)
	CreateTx(ctx context.Context, tx bun.IDB, confirmation *EmailConfirmation) error
	MarkConfirmedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error)
}

type store struct {
	db                 *bun.DB
	users              Users
	refreshTokens      RefreshTokens
	passwordResets     PasswordResets
	emailConfirmations EmailConfirmations
}

// NewStore builds the bun backed Store
func NewStore(db *bun.DB) Store {
	return &store{
		db:                 db,
		users:              newUsersRepository(db),
		refreshTokens:      &refreshTokens{db: db},
		passwordResets:     newPasswordResetsRepository(db),
		emailConfirmations: &emailConfirmations{db: db},
	}
}

func (s *store) Users() Users {
	return s.users
}

func (s *store) RefreshTokens() RefreshTokens {
	return s.refreshTokens
}

func (s *store) PasswordResets() PasswordResets {
	return s.passwordResets
}

func (s *store) EmailConfirmations() EmailConfirmations {
	return s.emailConfirmations
}

func (s *store) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return s.db.RunInTx(ctx, opts, f)
	}
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

func newUsersRepository(db *bun.DB) *users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &users{Repository: repo, db: db}
}

func (u *users) GetByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(map[string]any{"id": id})
	}
	return u.Repository.GetByID(ctx, id)
}

func (u *users) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(map[string]any{"id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (u *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return u.GetByEmailTx(ctx, u.db, email)
}

func (u *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", normalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(map[string]any{"email": email})
		}
		return nil, err
	}
	return record, nil
}

func (u *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = normalizeEmail(user.Email)
	return u.Repository.CreateTx(ctx, tx, user)
}

func (u *users) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(map[string]any{"id": id.String()})
	}
	return nil
}

func (u *users) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("is_email_verified = ?", true).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(map[string]any{"id": id.String()})
	}
	return nil
}

func (u *users) TrackLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := u.db.NewUpdate().
		Model((*User)(nil)).
		Set("loggedin_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

type refreshTokens struct {
	db *bun.DB
}

func (r *refreshTokens) CreateTx(ctx context.Context, tx bun.IDB, token *RefreshToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	_, err := tx.NewInsert().Model(token).Exec(ctx)
	return err
}

func (r *refreshTokens) GetByHashTx(ctx context.Context, tx bun.IDB, hash string) (*RefreshToken, error) {
	record := &RefreshToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", hash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(nil)
		}
		return nil, err
	}
	return record, nil
}

// RevokeTx revokes a single token. It reports false when the token was
// already revoked, which lets callers detect a concurrent rotation.
func (r *refreshTokens) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked_at = ?", at).
		Where("id = ?", id).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *refreshTokens) RevokeAllForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, at time.Time) error {
	_, err := tx.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked_at = ?", at).
		Where("user_id = ?", userID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}

type passwordResets struct {
	repository.Repository[*PasswordReset]
}

func newPasswordResetsRepository(db *bun.DB) *passwordResets {
	repo := repository.NewRepository[*PasswordReset](db, repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset { return &PasswordReset{} },
		GetID: func(r *PasswordReset) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *PasswordReset, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})
	return &passwordResets{Repository: repo}
}

func (p *passwordResets) GetByID(ctx context.Context, id string) (*PasswordReset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(map[string]any{"id": id})
	}
	return p.Repository.GetByID(ctx, id)
}

func (p *passwordResets) CreateTx(ctx context.Context, tx bun.IDB, reset *PasswordReset) (*PasswordReset, error) {
	if reset.ID == uuid.Nil {
		reset.ID = uuid.New()
	}
	return p.Repository.CreateTx(ctx, tx, reset)
}

// MarkResetTx flips a requested reset to changed. It reports false when the
// reset was already used.
func (p *passwordResets) MarkResetTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*PasswordReset)(nil)).
		Set("status = ?", ResetChangedStatus).
		Set("reset_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", ResetRequestedStatus).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type emailConfirmations struct {
	db *bun.DB
}

func (e *emailConfirmations) GetByID(ctx context.Context, id string) (*EmailConfirmation, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, notFound(map[string]any{"id": id})
	}

	record := &EmailConfirmation{}
	err = e.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", parsed).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(map[string]any{"id": id})
		}
		return nil, err
	}
	return record, nil
}

func (e *emailConfirmations) CreateTx(ctx context.Context, tx bun.IDB, confirmation *EmailConfirmation) error {
	if confirmation.ID == uuid.Nil {
		confirmation.ID = uuid.New()
	}
	_, err := tx.NewInsert().Model(confirmation).Exec(ctx)
	return err
}

// MarkConfirmedTx consumes a confirmation. It reports false when it was
// already used.
func (e *emailConfirmations) MarkConfirmedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*EmailConfirmation)(nil)).
		Set("confirmed_at = ?", at).
		Where("id = ?", id).
		Where("confirmed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func notFound(metadata map[string]any) *goerrors.Error {
	err := goerrors.New("record not found", goerrors.CategoryNotFound)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// IsNotFound reports missing records from either bun or the repository layer
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) || goerrors.IsNotFound(err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
