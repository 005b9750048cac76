package account

import (
	"errors"

	"github.com/geocoder89/medcard/internal/auth"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired verification code")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvalidToken         = auth.ErrInvalidToken
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidTarget        = errors.New("target is not a doctor")
	ErrNotificationFailure  = errors.New("failed to send notification")
)
