package account

import (
	"context"
	"time"

	"github.com/geocoder89/medcard/internal/domain/user"
	"github.com/geocoder89/medcard/internal/domain/verification"
)

// UserStore is the credential store. Implementations return user.ErrNotFound
// for unknown ids/emails and user.ErrEmailTaken on a unique email clash.
type UserStore interface {
	Create(ctx context.Context, u user.User) error
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
	UpdateEmail(ctx context.Context, id, email string, now time.Time) error
	UpdateProfile(ctx context.Context, id string, patch user.ProfilePatch, now time.Time) (user.User, error)
	// SetRole sets the role only while it is unset; it reports false when a
	// role was already present.
	SetRole(ctx context.Context, id string, role user.Role, now time.Time) (bool, error)
	// AddSharedWith adds doctorID to the set if absent.
	AddSharedWith(ctx context.Context, id, doctorID string, now time.Time) error
	List(ctx context.Context, f user.ListFilter) ([]user.User, int64, error)
}

// CodeStore keeps at most one verification code per email.
type CodeStore interface {
	// Replace atomically swaps any existing code for c.Email with c.
	Replace(ctx context.Context, c verification.Code) error
	// Consume deletes the record matching email and code if it was created
	// after notBefore. Anything else is verification.ErrNotFound.
	Consume(ctx context.Context, email, code string, notBefore time.Time) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
