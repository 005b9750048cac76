package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/medcard/internal/account"
	"github.com/geocoder89/medcard/internal/http/middlewares"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get(middlewares.CtxRequestID)

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnauthorized(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusUnauthorized, "unauthorized", message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

type serviceErrorMapping struct {
	target  error
	status  int
	message string
}

var serviceErrors = []serviceErrorMapping{
	{account.ErrValidation, http.StatusBadRequest, ""},
	{account.ErrInvalidOrExpiredCode, http.StatusBadRequest, "Invalid or expired verification code"},
	{account.ErrUserAlreadyExists, http.StatusConflict, "User already exists"},
	{account.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{account.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
	{account.ErrInvalidToken, http.StatusUnauthorized, "Invalid or expired token"},
	{account.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{account.ErrInvalidTarget, http.StatusUnprocessableEntity, "Target user is not a doctor"},
	{account.ErrNotificationFailure, http.StatusBadGateway, "Failed to send verification code"},
}

// RespondServiceError maps an account error onto the envelope. The code
// string is shared with the metrics label and the GraphQL extension.
func RespondServiceError(ctx *gin.Context, err error) {
	for _, m := range serviceErrors {
		if !errors.Is(err, m.target) {
			continue
		}

		msg := m.message
		if msg == "" {
			// validation errors carry a caller-facing reason after the sentinel
			msg = strings.TrimPrefix(err.Error(), account.ErrValidation.Error()+": ")
		}
		RespondError(ctx, m.status, account.ResultOf(err), msg, nil)
		return
	}

	slog.ErrorContext(ctx.Request.Context(), "request failed",
		"route", ctx.FullPath(),
		"request_id", requestIDFrom(ctx),
		"err", err,
	)
	RespondInternal(ctx, "Internal server error")
}

// RespondJSONWithETag answers with 304 when the client's validator still
// matches. The ETag is only sent back to the same authenticated caller, so
// caching stays private.
func RespondJSONWithETag(ctx *gin.Context, status int, payload interface{}) {
	etag, err := buildETag(payload)
	if err != nil {
		ctx.JSON(status, payload)
		return
	}

	ctx.Header("ETag", etag)
	ctx.Header("Cache-Control", "private, no-cache")

	if ifNoneMatchMatches(ctx.GetHeader("If-None-Match"), etag) {
		ctx.Status(http.StatusNotModified)
		return
	}

	ctx.JSON(status, payload)
}

func buildETag(payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(b)

	return `"` + hex.EncodeToString(sum[:16]) + `"`, nil
}

func ifNoneMatchMatches(headerValue, currentETag string) bool {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" || currentETag == "" {
		return false
	}

	if headerValue == "*" {
		return true
	}

	for _, part := range strings.Split(headerValue, ",") {
		// weak comparison: W/"abc" matches "abc"
		if strings.TrimPrefix(strings.TrimSpace(part), "W/") == currentETag {
			return true
		}
	}

	return false
}
