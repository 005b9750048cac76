package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/medcard/internal/domain/verification"
)

type CodesRepo struct {
	mu    sync.Mutex
	items map[string]verification.Code // keyed by email
}

func NewCodesRepo() *CodesRepo {
	return &CodesRepo{items: make(map[string]verification.Code)}
}

func (r *CodesRepo) Replace(_ context.Context, c verification.Code) error {
	r.mu.Lock()
	r.items[c.Email] = c
	r.mu.Unlock()
	return nil
}

func (r *CodesRepo) Consume(_ context.Context, email, code string, notBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.items[email]
	if !ok || c.Code != code || !c.CreatedAt.After(notBefore) {
		return verification.ErrNotFound
	}

	delete(r.items, email)
	return nil
}

func (r *CodesRepo) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for email, c := range r.items {
		if !c.CreatedAt.After(before) {
			delete(r.items, email)
			n++
		}
	}
	return n, nil
}

// Len is the number of stored codes, expired or not.
func (r *CodesRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
