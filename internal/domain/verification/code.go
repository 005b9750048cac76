package verification

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"time"
)

// TTL is how long an issued code stays redeemable.
const TTL = 300 * time.Second

const (
	minCode = 100000
	maxCode = 999999
)

var ErrNotFound = errors.New("verification code not found")

type Code struct {
	Email     string    `json:"email" bson:"email"`
	Code      string    `json:"-" bson:"code"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

func New(email, code string, now time.Time) Code {
	return Code{Email: email, Code: code, CreatedAt: now.UTC()}
}

func (c Code) ExpiresAt() time.Time {
	return c.CreatedAt.Add(TTL)
}

// Live reports whether the code can still be redeemed at now.
func (c Code) Live(now time.Time) bool {
	return now.Sub(c.CreatedAt) < TTL
}

// Cutoff is the oldest createdAt that is still live at now. Stores redeem
// only records created strictly after it.
func Cutoff(now time.Time) time.Time {
	return now.UTC().Add(-TTL)
}

// Generate returns a uniformly random code in [100000, 999999].
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+minCode, 10), nil
}

// WellFormed reports whether s looks like something Generate could return.
func WellFormed(s string) bool {
	if len(s) != 6 {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return n >= minCode && n <= maxCode
}
