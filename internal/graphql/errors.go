package graphql

import (
	"context"
	"log/slog"
	"strings"

	"github.com/geocoder89/medcard/internal/account"
)

// Error is returned from resolvers; graphql-go copies Extensions into the
// response so clients can branch on extensions.code.
type Error struct {
	Code    string
	Message string
	// RetryAfter is set on rate_limited errors, in whole seconds.
	RetryAfter int
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": e.Code}
	if e.RetryAfter > 0 {
		ext["retryAfter"] = e.RetryAfter
	}
	return ext
}

var errUnauthenticated = &Error{Code: "unauthorized", Message: "authentication required"}

var publicMessages = map[string]string{
	"invalid_code":        "invalid or expired verification code",
	"user_exists":         "user already exists",
	"not_found":           "user not found",
	"invalid_credentials": "invalid email or password",
	"unauthorized":        "invalid or expired token",
	"forbidden":           "forbidden",
	"invalid_target":      "target user is not a doctor",
	"notification_failed": "failed to send verification code",
}

func toError(ctx context.Context, log *slog.Logger, err error) error {
	if err == nil {
		return nil
	}

	code := account.ResultOf(err)

	switch code {
	case "invalid_request":
		return &Error{Code: code, Message: strings.TrimPrefix(err.Error(), account.ErrValidation.Error()+": ")}
	case "error":
		log.ErrorContext(ctx, "graphql resolver failed", "err", err)
		return &Error{Code: "internal_error", Message: "internal server error"}
	}

	if msg, ok := publicMessages[code]; ok {
		return &Error{Code: code, Message: msg}
	}
	return &Error{Code: code, Message: code}
}
