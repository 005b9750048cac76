package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/geocoder89/medcard/internal/domain/user"
)

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key error is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error is not a unique violation")
	}
}

func TestBuildListConditions(t *testing.T) {
	doctor := user.RoleDoctor
	position := "Surgeon"
	search := "50%_off"
	shared := "doc-1"

	tests := []struct {
		name      string
		filter    user.ListFilter
		wantWhere []string
		wantArgs  []any
	}{
		{name: "empty", filter: user.ListFilter{}},
		{
			name:      "role_and_position",
			filter:    user.ListFilter{Role: &doctor, Position: &position},
			wantWhere: []string{"role = $1", "lower(profile->>'position') = lower($2)"},
			wantArgs:  []any{"Doctor", "Surgeon"},
		},
		{
			name:      "shared_and_search",
			filter:    user.ListFilter{SharedWith: &shared, Search: &search},
			wantWhere: []string{"$1 = ANY(shared_with)", "email ILIKE $2"},
			wantArgs:  []any{"doc-1", `%50\%\_off%`},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildListConditions(tt.filter)

			if len(tt.wantWhere) == 0 && where != "" {
				t.Fatalf("expected no WHERE clause, got %q", where)
			}
			for _, frag := range tt.wantWhere {
				if !strings.Contains(where, frag) {
					t.Fatalf("expected %q in %q", frag, where)
				}
			}

			if len(args) != len(tt.wantArgs) {
				t.Fatalf("expected args %v, got %v", tt.wantArgs, args)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Fatalf("arg %d: expected %v, got %v", i, tt.wantArgs[i], args[i])
				}
			}
		})
	}
}
