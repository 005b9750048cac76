package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/geocoder89/medcard/internal/domain/user"
	"github.com/geocoder89/medcard/internal/security"
)

type SeedStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Create(ctx context.Context, u user.User) error
}

type SeedDoctor struct {
	Email    string
	Password string
	Cost     int
}

// EnsureDoctor creates a Doctor account for local setups so sharing can be
// tried without a second registration round-trip. It does nothing when the
// email is empty or already registered.
func EnsureDoctor(ctx context.Context, store SeedStore, seed SeedDoctor) (bool, error) {
	if seed.Email == "" || seed.Password == "" {
		return false, nil
	}

	_, err := store.GetByEmail(ctx, seed.Email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return false, err
	}

	hash, err := security.HashPasswordCost(seed.Password, seed.Cost)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()

	u := user.User{
		ID:           uuid.NewString(),
		Email:        seed.Email,
		PasswordHash: hash,
		Role:         user.RoleDoctor,
		SharedWith:   []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
