// Package graphql exposes the account operations over GraphQL. It shares
// the error codes of the REST layer through extensions.code.
package graphql

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	gql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/geocoder89/medcard/internal/actorctx"
	"github.com/geocoder89/medcard/internal/auth"
	"github.com/geocoder89/medcard/internal/config"
	"github.com/geocoder89/medcard/internal/domain/user"
)

type Accounts interface {
	IssueCode(ctx context.Context, email string) error
	Register(ctx context.Context, email, code, password string) (user.User, auth.TokenPair, error)
	Login(ctx context.Context, email, password string) (user.User, auth.TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	ChangePassword(ctx context.Context, email, currentPassword, newPassword string) error
	ChangeEmail(ctx context.Context, actorID, currentEmail, newEmail, code string) error
	GetUser(ctx context.Context, actorID, id string) (user.User, error)
	UpdateProfile(ctx context.Context, actorID, userID string, patch user.ProfilePatch) (user.User, error)
	SetRole(ctx context.Context, actorID, userID string, role user.Role) (user.User, error)
	ShareCard(ctx context.Context, actingUserID, patientID, doctorID string) error
	ListUsers(ctx context.Context, f user.ListFilter) (user.Page, error)
	ListSharedCards(ctx context.Context, actorID, doctorID string, f user.ListFilter) (user.Page, error)
}

// Limiter is satisfied by the REST rate limiters, so both access layers
// draw from the same per-client budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type Resolver struct {
	svc       Accounts
	log       *slog.Logger
	timeout   time.Duration
	sendCode  Limiter
	login     Limiter
	onLimited func(route string)
}

type Option func(*Resolver)

// WithLimiters charges every sendCode and login field, aliases included,
// against the given limiters. Either may be nil.
func WithLimiters(sendCode, login Limiter) Option {
	return func(r *Resolver) {
		r.sendCode = sendCode
		r.login = login
	}
}

// WithOnLimited is called with "graphql.<field>" for each rejected field.
func WithOnLimited(fn func(route string)) Option {
	return func(r *Resolver) { r.onLimited = fn }
}

// WithTimeout bounds each service call made by a resolver.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewSchema parses the schema against the resolver.
func NewSchema(svc Accounts, log *slog.Logger, opts ...Option) (*gql.Schema, error) {
	if log == nil {
		log = slog.Default()
	}

	r := &Resolver{svc: svc, log: log, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}

	return gql.ParseSchema(schemaSDL, r,
		gql.MaxDepth(8),
		gql.MaxParallelism(10),
	)
}

// NewHandler serves POST requests carrying {query, variables}. The actor
// and client address come from the request context.
func NewHandler(svc Accounts, log *slog.Logger, opts ...Option) (http.Handler, error) {
	schema, err := NewSchema(svc, log, opts...)
	if err != nil {
		return nil, err
	}
	return &relay.Handler{Schema: schema}, nil
}

func (r *Resolver) fail(ctx context.Context, err error) error {
	return toError(ctx, r.log, err)
}

func (r *Resolver) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return config.WithTimeout(ctx, r.timeout)
}

// allow spends one hit of l for the calling client. Limiter errors let the
// call through, as the REST middleware does.
func (r *Resolver) allow(ctx context.Context, l Limiter, field string) error {
	if l == nil {
		return nil
	}

	key, ok := actorctx.ClientIPFrom(ctx)
	if !ok {
		key = "unknown"
	}

	allowed, retryAfter, err := l.Allow(ctx, key)
	if err != nil || allowed {
		return nil
	}

	if r.onLimited != nil {
		r.onLimited("graphql." + field)
	}

	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &Error{Code: "rate_limited", Message: "too many requests, try again shortly", RetryAfter: secs}
}

func actor(ctx context.Context) (string, error) {
	id, ok := actorctx.UserIDFrom(ctx)
	if !ok {
		return "", errUnauthenticated
	}
	return id, nil
}

func pageFilter(page, limit *int32) user.ListFilter {
	f := user.ListFilter{}
	if page != nil {
		f.Page = int(*page)
	}
	if limit != nil {
		f.Limit = int(*limit)
	}
	return f
}

// queries

func (r *Resolver) Me(ctx context.Context) (*userResolver, error) {
	id, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	u, err := r.svc.GetUser(cctx, id, id)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &userResolver{u}, nil
}

func (r *Resolver) GetUser(ctx context.Context, args struct{ ID gql.ID }) (*userResolver, error) {
	actorID, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	u, err := r.svc.GetUser(cctx, actorID, string(args.ID))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &userResolver{u}, nil
}

type getUsersArgs struct {
	Role     *string
	Position *string
	Search   *string
	Page     *int32
	Limit    *int32
}

func (r *Resolver) GetUsers(ctx context.Context, args getUsersArgs) (*pageResolver, error) {
	if _, err := actor(ctx); err != nil {
		return nil, err
	}

	f := pageFilter(args.Page, args.Limit)
	if args.Role != nil {
		role := user.Role(*args.Role)
		f.Role = &role
	}
	f.Position = args.Position
	f.Search = args.Search

	cctx, cancel := r.bound(ctx)
	defer cancel()

	page, err := r.svc.ListUsers(cctx, f.Normalize())
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &pageResolver{page}, nil
}

type getSharedCardsArgs struct {
	DoctorID gql.ID
	Search   *string
	Page     *int32
	Limit    *int32
}

func (r *Resolver) GetSharedCards(ctx context.Context, args getSharedCardsArgs) (*pageResolver, error) {
	actorID, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	f := pageFilter(args.Page, args.Limit)
	f.Search = args.Search

	cctx, cancel := r.bound(ctx)
	defer cancel()

	page, err := r.svc.ListSharedCards(cctx, actorID, string(args.DoctorID), f.Normalize())
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &pageResolver{page}, nil
}

// mutations

func (r *Resolver) SendCode(ctx context.Context, args struct{ Email string }) (string, error) {
	if err := r.allow(ctx, r.sendCode, "sendCode"); err != nil {
		return "", err
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.svc.IssueCode(cctx, args.Email); err != nil {
		return "", r.fail(ctx, err)
	}
	return "Verification code sent to your email", nil
}

type registerArgs struct {
	Email    string
	Code     string
	Password string
}

func (r *Resolver) VerifyCodeAndRegister(ctx context.Context, args registerArgs) (*authPayloadResolver, error) {
	cctx, cancel := r.bound(ctx)
	defer cancel()

	u, pair, err := r.svc.Register(cctx, args.Email, args.Code, args.Password)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &authPayloadResolver{access: pair.AccessToken, refresh: pair.RefreshToken, user: u}, nil
}

type loginArgs struct {
	Email    string
	Password string
}

func (r *Resolver) Login(ctx context.Context, args loginArgs) (*authPayloadResolver, error) {
	if err := r.allow(ctx, r.login, "login"); err != nil {
		return nil, err
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	u, pair, err := r.svc.Login(cctx, args.Email, args.Password)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &authPayloadResolver{access: pair.AccessToken, refresh: pair.RefreshToken, user: u}, nil
}

func (r *Resolver) RefreshToken(ctx context.Context, args struct{ Token string }) (string, error) {
	cctx, cancel := r.bound(ctx)
	defer cancel()

	access, err := r.svc.RefreshAccessToken(cctx, args.Token)
	if err != nil {
		return "", r.fail(ctx, err)
	}
	return access, nil
}

type changePasswordArgs struct {
	Email           string
	CurrentPassword string
	NewPassword     string
}

func (r *Resolver) ChangePassword(ctx context.Context, args changePasswordArgs) (string, error) {
	cctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.svc.ChangePassword(cctx, args.Email, args.CurrentPassword, args.NewPassword); err != nil {
		return "", r.fail(ctx, err)
	}
	return "Password changed successfully", nil
}

type changeEmailArgs struct {
	CurrentEmail string
	NewEmail     string
	Code         string
}

func (r *Resolver) ChangeEmail(ctx context.Context, args changeEmailArgs) (string, error) {
	actorID, err := actor(ctx)
	if err != nil {
		return "", err
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.svc.ChangeEmail(cctx, actorID, args.CurrentEmail, args.NewEmail, args.Code); err != nil {
		return "", r.fail(ctx, err)
	}
	return "Email changed successfully", nil
}

type updateUserArgs struct {
	ID    gql.ID
	Input updateUserInput
}

func (r *Resolver) UpdateUser(ctx context.Context, args updateUserArgs) (*userResolver, error) {
	actorID, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	u, err := r.svc.UpdateProfile(cctx, actorID, string(args.ID), args.Input.patch())
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &userResolver{u}, nil
}

type setRoleArgs struct {
	ID   gql.ID
	Role string
}

func (r *Resolver) SetRole(ctx context.Context, args setRoleArgs) (*userResolver, error) {
	actorID, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	u, err := r.svc.SetRole(cctx, actorID, string(args.ID), user.Role(args.Role))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &userResolver{u}, nil
}

type shareCardArgs struct {
	PatientID gql.ID
	DoctorID  gql.ID
}

func (r *Resolver) ShareCard(ctx context.Context, args shareCardArgs) (string, error) {
	actorID, err := actor(ctx)
	if err != nil {
		return "", err
	}

	cctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.svc.ShareCard(cctx, actorID, string(args.PatientID), string(args.DoctorID)); err != nil {
		return "", r.fail(ctx, err)
	}
	return "Card shared successfully", nil
}
