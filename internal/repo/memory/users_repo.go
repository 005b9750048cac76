package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/medcard/internal/domain/user"
)

type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User
	byEmail map[string]string // email -> id
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
	}
}

func (r *UsersRepo) Create(_ context.Context, u user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[u.Email]; taken {
		return user.ErrEmailTaken
	}

	if u.SharedWith == nil {
		u.SharedWith = []string{}
	}

	r.items[u.ID] = clone(u)
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return clone(u), nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return clone(r.items[id]), nil
}

func (r *UsersRepo) UpdatePasswordHash(_ context.Context, id, hash string, now time.Time) error {
	return r.mutate(id, func(u *user.User) error {
		u.PasswordHash = hash
		u.UpdatedAt = now
		return nil
	})
}

func (r *UsersRepo) UpdateEmail(_ context.Context, id, email string, now time.Time) error {
	return r.mutate(id, func(u *user.User) error {
		if owner, taken := r.byEmail[email]; taken && owner != id {
			return user.ErrEmailTaken
		}
		delete(r.byEmail, u.Email)
		r.byEmail[email] = id
		u.Email = email
		u.UpdatedAt = now
		return nil
	})
}

func (r *UsersRepo) UpdateProfile(_ context.Context, id string, patch user.ProfilePatch, now time.Time) (user.User, error) {
	var out user.User
	err := r.mutate(id, func(u *user.User) error {
		patch.Apply(&u.Profile)
		u.UpdatedAt = now
		out = clone(*u)
		return nil
	})
	return out, err
}

func (r *UsersRepo) SetRole(_ context.Context, id string, role user.Role, now time.Time) (bool, error) {
	set := false
	err := r.mutate(id, func(u *user.User) error {
		if u.Role != "" {
			return nil
		}
		u.Role = role
		u.UpdatedAt = now
		set = true
		return nil
	})
	return set, err
}

func (r *UsersRepo) AddSharedWith(_ context.Context, id, doctorID string, now time.Time) error {
	return r.mutate(id, func(u *user.User) error {
		if u.IsSharedWith(doctorID) {
			return nil
		}
		u.SharedWith = append(u.SharedWith, doctorID)
		u.UpdatedAt = now
		return nil
	})
}

func (r *UsersRepo) List(_ context.Context, f user.ListFilter) ([]user.User, int64, error) {
	f = f.Normalize()

	r.mu.RLock()
	matched := make([]user.User, 0)
	for _, u := range r.items {
		if matches(u, f) {
			matched = append(matched, u)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := int64(len(matched))

	start := f.Offset()
	if start >= len(matched) {
		return []user.User{}, total, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]user.User, 0, end-start)
	for _, u := range matched[start:end] {
		out = append(out, clone(u))
	}
	return out, total, nil
}

func (r *UsersRepo) mutate(id string, fn func(u *user.User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrNotFound
	}

	if err := fn(&u); err != nil {
		return err
	}

	r.items[id] = clone(u)
	return nil
}

func matches(u user.User, f user.ListFilter) bool {
	if f.Role != nil && u.Role != *f.Role {
		return false
	}
	if f.Position != nil && !strings.EqualFold(u.Position, *f.Position) {
		return false
	}
	if f.SharedWith != nil && !u.IsSharedWith(*f.SharedWith) {
		return false
	}
	if f.Search != nil && *f.Search != "" {
		q := strings.ToLower(*f.Search)
		for _, field := range []string{u.FirstName, u.LastName, u.MiddleName, u.Email} {
			if strings.Contains(strings.ToLower(field), q) {
				return true
			}
		}
		return false
	}
	return true
}

// clone copies the slices so callers never alias stored state.
func clone(u user.User) user.User {
	u.SharedWith = append([]string(nil), u.SharedWith...)
	if u.SharedWith == nil {
		u.SharedWith = []string{}
	}
	u.Allergies = append([]string(nil), u.Allergies...)
	u.Certificates = append([]string(nil), u.Certificates...)
	u.Operations = append([]user.Operation(nil), u.Operations...)
	u.MedicalCategories = append([]user.MedicalCategory(nil), u.MedicalCategories...)
	u.Experience = append([]user.Experience(nil), u.Experience...)
	if u.BirthDate != nil {
		d := *u.BirthDate
		u.BirthDate = &d
	}
	return u
}
