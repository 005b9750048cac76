package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/medcard/internal/domain/user"
	"github.com/geocoder89/medcard/internal/domain/verification"
)

func TestCodesRepo_ReplaceKeepsOneCode(t *testing.T) {
	ctx := context.Background()
	r := NewCodesRepo()
	now := time.Now()

	_ = r.Replace(ctx, verification.New("a@x.com", "111111", now))
	_ = r.Replace(ctx, verification.New("a@x.com", "222222", now))

	if r.Len() != 1 {
		t.Fatalf("expected 1 stored code, got %d", r.Len())
	}

	cutoff := verification.Cutoff(now)
	if err := r.Consume(ctx, "a@x.com", "111111", cutoff); !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("expected replaced code to be gone, got %v", err)
	}
	if err := r.Consume(ctx, "a@x.com", "222222", cutoff); err != nil {
		t.Fatalf("expected latest code to redeem, got %v", err)
	}
	if err := r.Consume(ctx, "a@x.com", "222222", cutoff); !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("expected second redeem to fail, got %v", err)
	}
}

func TestCodesRepo_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	r := NewCodesRepo()
	now := time.Now()

	_ = r.Replace(ctx, verification.New("old@x.com", "111111", now.Add(-10*time.Minute)))
	_ = r.Replace(ctx, verification.New("new@x.com", "222222", now))

	n, err := r.PurgeExpired(ctx, verification.Cutoff(now))
	if err != nil {
		t.Fatalf("purge error: %v", err)
	}
	if n != 1 || r.Len() != 1 {
		t.Fatalf("expected 1 purged and 1 left, got purged=%d left=%d", n, r.Len())
	}
}

func TestUsersRepo_UniqueEmail(t *testing.T) {
	ctx := context.Background()
	r := NewUsersRepo()

	if err := r.Create(ctx, user.User{ID: "1", Email: "a@x.com"}); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := r.Create(ctx, user.User{ID: "2", Email: "a@x.com"}); !errors.Is(err, user.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	_ = r.Create(ctx, user.User{ID: "3", Email: "b@x.com"})
	if err := r.UpdateEmail(ctx, "3", "a@x.com", time.Now()); !errors.Is(err, user.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken on update, got %v", err)
	}

	if err := r.UpdateEmail(ctx, "3", "c@x.com", time.Now()); err != nil {
		t.Fatalf("update email error: %v", err)
	}
	if _, err := r.GetByEmail(ctx, "b@x.com"); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("old email should be released, got %v", err)
	}
	if u, err := r.GetByEmail(ctx, "c@x.com"); err != nil || u.ID != "3" {
		t.Fatalf("expected user 3 under new email, got %+v %v", u, err)
	}
}

func TestUsersRepo_ListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	r := NewUsersRepo()
	base := time.Now()

	doctor := user.RoleDoctor
	for i, u := range []user.User{
		{ID: "d1", Email: "house@x.com", Role: user.RoleDoctor, Profile: user.Profile{LastName: "House", Position: "Diagnostician"}},
		{ID: "d2", Email: "wilson@x.com", Role: user.RoleDoctor, Profile: user.Profile{LastName: "Wilson", Position: "Oncologist"}},
		{ID: "p1", Email: "patient@x.com", Role: user.RoleUser, SharedWith: []string{"d1"}},
	} {
		u.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := r.Create(ctx, u); err != nil {
			t.Fatalf("create error: %v", err)
		}
	}

	items, total, err := r.List(ctx, user.ListFilter{Role: &doctor, Limit: 1})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if total != 2 || len(items) != 1 || items[0].ID != "d1" {
		t.Fatalf("unexpected page 1: total=%d items=%v", total, items)
	}

	items, _, _ = r.List(ctx, user.ListFilter{Role: &doctor, Page: 2, Limit: 1})
	if len(items) != 1 || items[0].ID != "d2" {
		t.Fatalf("unexpected page 2: %v", items)
	}

	q := "WILS"
	items, total, _ = r.List(ctx, user.ListFilter{Search: &q})
	if total != 1 || items[0].ID != "d2" {
		t.Fatalf("expected search to match wilson, got %v", items)
	}

	d1 := "d1"
	items, total, _ = r.List(ctx, user.ListFilter{SharedWith: &d1})
	if total != 1 || items[0].ID != "p1" {
		t.Fatalf("expected shared card p1, got %v", items)
	}
}

func TestUsersRepo_AddSharedWithIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewUsersRepo()
	_ = r.Create(ctx, user.User{ID: "p1", Email: "p@x.com"})

	for i := 0; i < 2; i++ {
		if err := r.AddSharedWith(ctx, "p1", "d1", time.Now()); err != nil {
			t.Fatalf("share error: %v", err)
		}
	}

	u, _ := r.GetByID(ctx, "p1")
	if len(u.SharedWith) != 1 {
		t.Fatalf("expected one entry, got %v", u.SharedWith)
	}
}

func TestUsersRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewUsersRepo()
	_ = r.Create(ctx, user.User{ID: "p1", Email: "p@x.com", Profile: user.Profile{Allergies: []string{"nuts"}}})

	u, _ := r.GetByID(ctx, "p1")
	u.Allergies[0] = "changed"

	again, _ := r.GetByID(ctx, "p1")
	if again.Allergies[0] != "nuts" {
		t.Fatalf("stored state was mutated through a returned value")
	}
}
