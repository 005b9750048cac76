package security

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPasswordCost("s3cret-pass", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if hash == "s3cret-pass" {
		t.Fatalf("hash must not equal the plain password")
	}

	if err := CheckPassword(hash, "s3cret-pass"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}

	if err := CheckPassword(hash, "other"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestHashPasswordCost_TooLong(t *testing.T) {
	_, err := HashPasswordCost(strings.Repeat("a", MaxPasswordBytes+1), bcrypt.MinCost)
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}
