package mongodb

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/geocoder89/medcard/internal/domain/user"
)

func TestListFilter(t *testing.T) {
	doctor := user.RoleDoctor
	position := "Surgeon"
	search := "a.b"
	shared := "doc-1"

	f := listFilter(user.ListFilter{Role: &doctor, Position: &position, Search: &search, SharedWith: &shared})

	if f["role"] != "Doctor" {
		t.Fatalf("expected role filter, got %v", f["role"])
	}
	if f["sharedWith"] != "doc-1" {
		t.Fatalf("expected sharedWith filter, got %v", f["sharedWith"])
	}

	rx, ok := f["position"].(bson.Regex)
	if !ok || rx.Pattern != "^Surgeon$" || rx.Options != "i" {
		t.Fatalf("unexpected position filter %v", f["position"])
	}

	or, ok := f["$or"].(bson.A)
	if !ok || len(or) != 4 {
		t.Fatalf("expected four search branches, got %v", f["$or"])
	}

	first := or[0].(bson.M)["firstName"].(bson.Regex)
	if first.Pattern != `a\.b` {
		t.Fatalf("search must be escaped, got %q", first.Pattern)
	}
}

func TestListFilter_Empty(t *testing.T) {
	if f := listFilter(user.ListFilter{}); len(f) != 0 {
		t.Fatalf("expected empty filter, got %v", f)
	}
}
