package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/medcard/internal/cache"
	"github.com/geocoder89/medcard/internal/config"
	"github.com/geocoder89/medcard/internal/domain/user"
	"github.com/geocoder89/medcard/internal/http/middlewares"
)

type UsersService interface {
	GetUser(ctx context.Context, actorID, id string) (user.User, error)
	UpdateProfile(ctx context.Context, actorID, userID string, patch user.ProfilePatch) (user.User, error)
	SetRole(ctx context.Context, actorID, userID string, role user.Role) (user.User, error)
	ShareCard(ctx context.Context, actingUserID, patientID, doctorID string) error
	ListUsers(ctx context.Context, f user.ListFilter) (user.Page, error)
	ListSharedCards(ctx context.Context, actorID, doctorID string, f user.ListFilter) (user.Page, error)
}

type UsersHandler struct {
	svc       UsersService
	directory *cache.Cache[user.Page]
	timeout   time.Duration
}

// NewUsersHandler caches directory pages for ttl. Pages only hold public
// projections; a zero ttl uses the cache default.
func NewUsersHandler(svc UsersService, ttl time.Duration) *UsersHandler {
	return &UsersHandler{
		svc:       svc,
		directory: cache.New[user.Page](ttl, 256),
		timeout:   3 * time.Second,
	}
}

type ListUsersQuery struct {
	Role     string `form:"role" binding:"omitempty,oneof=User Doctor"`
	Position string `form:"position" binding:"max=120"`
	Search   string `form:"search" binding:"max=200"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	Limit    int    `form:"limit" binding:"omitempty,min=1"`
}

func (q ListUsersQuery) filter() user.ListFilter {
	f := user.ListFilter{Page: q.Page, Limit: q.Limit}
	if q.Role != "" {
		r := user.Role(q.Role)
		f.Role = &r
	}
	if q.Position != "" {
		f.Position = &q.Position
	}
	if q.Search != "" {
		f.Search = &q.Search
	}
	return f.Normalize()
}

type SharedCardsQuery struct {
	Search string `form:"search" binding:"max=200"`
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1"`
}

type SetRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type ShareCardRequest struct {
	DoctorID string `json:"doctorId" binding:"required"`
}

func (h *UsersHandler) actor(ctx *gin.Context) (string, bool) {
	id, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "Authentication required")
	}
	return id, ok
}

func (h *UsersHandler) Me(ctx *gin.Context) {
	actorID, ok := h.actor(ctx)
	if !ok {
		return
	}
	h.respondUser(ctx, actorID, actorID)
}

// GetByID returns the full card to its owner and to doctors it was shared
// with; everyone else gets the public projection.
func (h *UsersHandler) GetByID(ctx *gin.Context) {
	actorID, ok := h.actor(ctx)
	if !ok {
		return
	}
	h.respondUser(ctx, actorID, ctx.Param("id"))
}

func (h *UsersHandler) respondUser(ctx *gin.Context, actorID, id string) {
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	u, err := h.svc.GetUser(cctx, actorID, id)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, u)
}

func (h *UsersHandler) UpdateProfile(ctx *gin.Context) {
	actorID, ok := h.actor(ctx)
	if !ok {
		return
	}

	var patch user.ProfilePatch
	if !BindJSON(ctx, &patch) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	u, err := h.svc.UpdateProfile(cctx, actorID, ctx.Param("id"), patch)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	h.directory.Clear()
	ctx.JSON(http.StatusOK, u)
}

func (h *UsersHandler) SetRole(ctx *gin.Context) {
	actorID, ok := h.actor(ctx)
	if !ok {
		return
	}

	var req SetRoleRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	u, err := h.svc.SetRole(cctx, actorID, ctx.Param("id"), user.Role(req.Role))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	h.directory.Clear()
	ctx.JSON(http.StatusOK, u)
}

func (h *UsersHandler) ShareCard(ctx *gin.Context) {
	actorID, ok := h.actor(ctx)
	if !ok {
		return
	}

	var req ShareCardRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	if err := h.svc.ShareCard(cctx, actorID, ctx.Param("id"), req.DoctorID); err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Card shared successfully"})
}

func (h *UsersHandler) List(ctx *gin.Context) {
	var q ListUsersQuery
	if !BindQuery(ctx, &q) {
		return
	}

	f := q.filter()
	key := directoryKey(f)

	if page, ok := h.directory.Get(key); ok {
		ctx.Header("X-Cache", "HIT")
		ctx.JSON(http.StatusOK, page)
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	page, err := h.svc.ListUsers(cctx, f)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	h.directory.Set(key, page)
	ctx.Header("X-Cache", "MISS")
	ctx.JSON(http.StatusOK, page)
}

func (h *UsersHandler) SharedCards(ctx *gin.Context) {
	actorID, ok := h.actor(ctx)
	if !ok {
		return
	}

	var q SharedCardsQuery
	if !BindQuery(ctx, &q) {
		return
	}

	f := user.ListFilter{Page: q.Page, Limit: q.Limit}
	if q.Search != "" {
		f.Search = &q.Search
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	page, err := h.svc.ListSharedCards(cctx, actorID, ctx.Param("id"), f.Normalize())
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, page)
}

func directoryKey(f user.ListFilter) string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}

	role := ""
	if f.Role != nil {
		role = string(*f.Role)
	}

	return fmt.Sprintf("r=%s|p=%s|s=%s|pg=%d|l=%d", role, deref(f.Position), deref(f.Search), f.Page, f.Limit)
}
