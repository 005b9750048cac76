package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/medcard/internal/auth"
	"github.com/geocoder89/medcard/internal/config"
	"github.com/geocoder89/medcard/internal/domain/user"
	"github.com/geocoder89/medcard/internal/http/middlewares"
)

// AuthService is the slice of account.Service the auth routes need.
type AuthService interface {
	IssueCode(ctx context.Context, email string) error
	Register(ctx context.Context, email, code, password string) (user.User, auth.TokenPair, error)
	Login(ctx context.Context, email, password string) (user.User, auth.TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	ChangePassword(ctx context.Context, email, currentPassword, newPassword string) error
	ChangeEmail(ctx context.Context, actorID, currentEmail, newEmail, code string) error
}

type AuthHandler struct {
	svc     AuthService
	timeout time.Duration
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	// bcrypt at production cost plus a store round trip
	return &AuthHandler{svc: svc, timeout: 5 * time.Second}
}

type SendCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Code     string `json:"code" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	Token string `json:"token" binding:"required"`
}

type ChangePasswordRequest struct {
	Email           string `json:"email" binding:"required,email"`
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type ChangeEmailRequest struct {
	CurrentEmail string `json:"currentEmail" binding:"required,email"`
	NewEmail     string `json:"newEmail" binding:"required,email"`
	Code         string `json:"code" binding:"required"`
}

type AuthResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         *user.User `json:"user,omitempty"`
}

func (h *AuthHandler) SendCode(ctx *gin.Context) {
	var req SendCodeRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	if err := h.svc.IssueCode(cctx, req.Email); err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Verification code sent to your email"})
}

// Register redeems the emailed code and creates the account.
func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	u, pair, err := h.svc.Register(cctx, req.Email, req.Code, req.Password)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         &u,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	u, pair, err := h.svc.Login(cctx, req.Email, req.Password)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         &u,
	})
}

func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req RefreshRequest
	if !BindJSON(ctx, &req) {
		return
	}

	access, err := h.svc.RefreshAccessToken(ctx.Request.Context(), req.Token)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"accessToken": access})
}

func (h *AuthHandler) ChangePassword(ctx *gin.Context) {
	var req ChangePasswordRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	if err := h.svc.ChangePassword(cctx, req.Email, req.CurrentPassword, req.NewPassword); err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

func (h *AuthHandler) ChangeEmail(ctx *gin.Context) {
	actorID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "Authentication required")
		return
	}

	var req ChangeEmailRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	if err := h.svc.ChangeEmail(cctx, actorID, req.CurrentEmail, req.NewEmail, req.Code); err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Email changed successfully"})
}
