package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/geocoder89/medcard/internal/auth"
	"github.com/geocoder89/medcard/internal/domain/user"
	"github.com/geocoder89/medcard/internal/domain/verification"
	"github.com/geocoder89/medcard/internal/notifications"
	"github.com/geocoder89/medcard/internal/security"
)

const minPasswordBytes = 8

// TokenIssuer is the part of the token manager the flow depends on.
type TokenIssuer interface {
	IssuePair(userID string) (auth.TokenPair, error)
	RefreshAccessToken(refreshToken string) (string, error)
}

// Recorder receives one event per finished operation.
// result is "ok" or a short error class.
type Recorder interface {
	AuthEvent(op, result string)
}

type nopRecorder struct{}

func (nopRecorder) AuthEvent(string, string) {}

type Option func(*Service)

// WithClock replaces time.Now. Code expiry is decided by this clock only.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.rec = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.genCode = gen }
}

type Service struct {
	users    UserStore
	codes    CodeStore
	tokens   TokenIssuer
	notifier notifications.Notifier

	now      func() time.Time
	hashCost int
	genCode  func() (string, error)
	rec      Recorder
	log      *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewService(users UserStore, codes CodeStore, tokens TokenIssuer, notifier notifications.Notifier, opts ...Option) *Service {
	s := &Service{
		users:    users,
		codes:    codes,
		tokens:   tokens,
		notifier: notifier,
		now:      time.Now,
		hashCost: bcrypt.DefaultCost,
		genCode:  verification.Generate,
		rec:      nopRecorder{},
		log:      slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// IssueCode generates a fresh code for email, replacing any earlier one, and
// sends it through the notifier.
func (s *Service) IssueCode(ctx context.Context, email string) (err error) {
	defer s.record("issue_code", &err)

	email = strings.TrimSpace(email)
	if !user.ValidateEmail(email) {
		return fmt.Errorf("%w: email is invalid", ErrValidation)
	}

	code, err := s.genCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	issuedAt := s.now()
	if err := s.codes.Replace(ctx, verification.New(email, code, issuedAt)); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	if err := s.notifier.SendVerificationCode(ctx, notifications.VerificationCodeInput{Email: email, Code: code}); err != nil {
		s.log.WarnContext(ctx, "verification code delivery failed", "email", email, "err", err)

		// an undelivered code must not stay redeemable; a newer code for the
		// same email does not match and is left alone
		if derr := s.codes.Consume(context.WithoutCancel(ctx), email, code, verification.Cutoff(issuedAt)); derr != nil && !errors.Is(derr, verification.ErrNotFound) {
			s.log.ErrorContext(ctx, "withdraw undelivered code failed", "email", email, "err", derr)
		}
		return fmt.Errorf("%w: %v", ErrNotificationFailure, err)
	}

	s.log.InfoContext(ctx, "verification code issued", "email", email)
	return nil
}

// RedeemCode consumes the live code for email. A code can be redeemed once.
func (s *Service) RedeemCode(ctx context.Context, email, code string) error {
	if !verification.WellFormed(code) {
		return ErrInvalidOrExpiredCode
	}

	err := s.codes.Consume(ctx, email, code, verification.Cutoff(s.now()))
	if errors.Is(err, verification.ErrNotFound) {
		return ErrInvalidOrExpiredCode
	}
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	return nil
}

func (s *Service) Register(ctx context.Context, email, code, password string) (u user.User, pair auth.TokenPair, err error) {
	defer s.record("register", &err)

	email = strings.TrimSpace(email)
	if !user.ValidateEmail(email) {
		return user.User{}, auth.TokenPair{}, fmt.Errorf("%w: email is invalid", ErrValidation)
	}
	if strings.TrimSpace(code) == "" {
		return user.User{}, auth.TokenPair{}, fmt.Errorf("%w: code is required", ErrValidation)
	}
	if err := validatePassword(password); err != nil {
		return user.User{}, auth.TokenPair{}, err
	}

	// checked before redeeming so a duplicate attempt leaves the code usable
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return user.User{}, auth.TokenPair{}, ErrUserAlreadyExists
	} else if !errors.Is(err, user.ErrNotFound) {
		return user.User{}, auth.TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := s.RedeemCode(ctx, email, code); err != nil {
		return user.User{}, auth.TokenPair{}, err
	}

	hash, err := security.HashPasswordCost(password, s.hashCost)
	if err != nil {
		return user.User{}, auth.TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	u = user.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		SharedWith:   []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return user.User{}, auth.TokenPair{}, ErrUserAlreadyExists
		}
		return user.User{}, auth.TokenPair{}, fmt.Errorf("create user: %w", err)
	}

	pair, err = s.tokens.IssuePair(u.ID)
	if err != nil {
		return user.User{}, auth.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}

	s.log.InfoContext(ctx, "user registered", "user_id", u.ID)
	return u, pair, nil
}

// Login returns the same error for an unknown email and a wrong password.
func (s *Service) Login(ctx context.Context, email, password string) (u user.User, pair auth.TokenPair, err error) {
	defer s.record("login", &err)

	u, err = s.verifyCredentials(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return user.User{}, auth.TokenPair{}, err
	}

	pair, err = s.tokens.IssuePair(u.ID)
	if err != nil {
		return user.User{}, auth.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}

	return u, pair, nil
}

func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (token string, err error) {
	defer s.record("refresh", &err)

	token, err = s.tokens.RefreshAccessToken(refreshToken)
	if err != nil {
		return "", ErrInvalidToken
	}
	return token, nil
}

func (s *Service) ChangePassword(ctx context.Context, email, currentPassword, newPassword string) (err error) {
	defer s.record("change_password", &err)

	if err := validatePassword(newPassword); err != nil {
		return err
	}

	u, err := s.verifyCredentials(ctx, strings.TrimSpace(email), currentPassword)
	if err != nil {
		return err
	}

	hash, err := security.HashPasswordCost(newPassword, s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, u.ID, hash, s.now().UTC()); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("update password: %w", err)
	}

	s.log.InfoContext(ctx, "password changed", "user_id", u.ID)
	return nil
}

// ChangeEmail moves the account at currentEmail to newEmail after the code
// sent to newEmail is redeemed. An empty actorID skips the ownership check.
func (s *Service) ChangeEmail(ctx context.Context, actorID, currentEmail, newEmail, code string) (err error) {
	defer s.record("change_email", &err)

	currentEmail = strings.TrimSpace(currentEmail)
	newEmail = strings.TrimSpace(newEmail)

	if !user.ValidateEmail(currentEmail) {
		return fmt.Errorf("%w: currentEmail is invalid", ErrValidation)
	}
	if !user.ValidateEmail(newEmail) {
		return fmt.Errorf("%w: newEmail is invalid", ErrValidation)
	}
	if currentEmail == newEmail {
		return fmt.Errorf("%w: newEmail must differ from currentEmail", ErrValidation)
	}

	u, err := s.users.GetByEmail(ctx, currentEmail)
	if errors.Is(err, user.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	if actorID != "" && actorID != u.ID {
		return ErrForbidden
	}

	if _, err := s.users.GetByEmail(ctx, newEmail); err == nil {
		return ErrUserAlreadyExists
	} else if !errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("lookup user: %w", err)
	}

	if err := s.RedeemCode(ctx, newEmail, code); err != nil {
		return err
	}

	if err := s.users.UpdateEmail(ctx, u.ID, newEmail, s.now().UTC()); err != nil {
		switch {
		case errors.Is(err, user.ErrEmailTaken):
			return ErrUserAlreadyExists
		case errors.Is(err, user.ErrNotFound):
			return ErrUserNotFound
		}
		return fmt.Errorf("update email: %w", err)
	}

	s.log.InfoContext(ctx, "email changed", "user_id", u.ID)
	return nil
}

// UpdateProfile merges the non-nil fields of patch into the record. Only the
// owner may patch their record.
func (s *Service) UpdateProfile(ctx context.Context, actorID, userID string, patch user.ProfilePatch) (u user.User, err error) {
	defer s.record("update_profile", &err)

	if actorID != userID {
		return user.User{}, ErrForbidden
	}
	if patch.IsEmpty() {
		return user.User{}, fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	if err := patch.Validate(); err != nil {
		return user.User{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	u, err = s.users.UpdateProfile(ctx, userID, patch, s.now().UTC())
	if errors.Is(err, user.ErrNotFound) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("update profile: %w", err)
	}

	return u, nil
}

// SetRole picks the account role during onboarding. Once set it is fixed.
func (s *Service) SetRole(ctx context.Context, actorID, userID string, role user.Role) (u user.User, err error) {
	defer s.record("set_role", &err)

	if actorID != userID {
		return user.User{}, ErrForbidden
	}
	if !role.IsValid() {
		return user.User{}, fmt.Errorf("%w: role must be User or Doctor", ErrValidation)
	}

	ok, err := s.users.SetRole(ctx, userID, role, s.now().UTC())
	if errors.Is(err, user.ErrNotFound) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("set role: %w", err)
	}
	if !ok {
		return user.User{}, fmt.Errorf("%w: role already set", ErrForbidden)
	}

	return s.loadUser(ctx, userID)
}

// ShareCard grants doctorID read access to the patient's full record.
// Sharing twice is a no-op.
func (s *Service) ShareCard(ctx context.Context, actingUserID, patientID, doctorID string) (err error) {
	defer s.record("share_card", &err)

	if actingUserID == "" || actingUserID != patientID {
		return ErrForbidden
	}

	patient, err := s.loadUser(ctx, patientID)
	if err != nil {
		return err
	}
	if patient.Role != user.RoleUser {
		return ErrForbidden
	}

	doctor, err := s.users.GetByID(ctx, doctorID)
	if errors.Is(err, user.ErrNotFound) {
		return ErrInvalidTarget
	}
	if err != nil {
		return fmt.Errorf("lookup doctor: %w", err)
	}
	if doctor.Role != user.RoleDoctor {
		return ErrInvalidTarget
	}

	if err := s.users.AddSharedWith(ctx, patientID, doctorID, s.now().UTC()); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("share card: %w", err)
	}

	s.log.InfoContext(ctx, "card shared", "patient_id", patientID, "doctor_id", doctorID)
	return nil
}

// GetUser returns the full record to its owner and to doctors it is shared
// with, and the public projection to everyone else.
func (s *Service) GetUser(ctx context.Context, actorID, id string) (user.User, error) {
	u, err := s.loadUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if actorID == u.ID || (actorID != "" && u.IsSharedWith(actorID)) {
		u.PasswordHash = ""
		return u, nil
	}

	return u.Public(), nil
}

func (s *Service) ListUsers(ctx context.Context, f user.ListFilter) (user.Page, error) {
	f = f.Normalize()
	if f.Role != nil && !f.Role.IsValid() {
		return user.Page{}, fmt.Errorf("%w: role must be User or Doctor", ErrValidation)
	}
	// sharing lists are never a public filter
	f.SharedWith = nil

	items, total, err := s.users.List(ctx, f)
	if err != nil {
		return user.Page{}, fmt.Errorf("list users: %w", err)
	}

	out := make([]user.User, 0, len(items))
	for _, u := range items {
		out = append(out, u.Public())
	}

	return user.Page{Items: out, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// ListSharedCards lists the patients that shared their card with doctorID.
// Only that doctor may ask.
func (s *Service) ListSharedCards(ctx context.Context, actorID, doctorID string, f user.ListFilter) (user.Page, error) {
	if actorID == "" || actorID != doctorID {
		return user.Page{}, ErrForbidden
	}

	doctor, err := s.loadUser(ctx, doctorID)
	if err != nil {
		return user.Page{}, err
	}
	if doctor.Role != user.RoleDoctor {
		return user.Page{}, ErrForbidden
	}

	f = f.Normalize()
	f.Role = nil
	f.Position = nil
	f.SharedWith = &doctorID

	items, total, err := s.users.List(ctx, f)
	if err != nil {
		return user.Page{}, fmt.Errorf("list shared cards: %w", err)
	}

	for i := range items {
		items[i].PasswordHash = ""
	}

	return user.Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// PurgeExpiredCodes drops codes that can no longer be redeemed. Expiry is
// enforced at redeem time regardless; this only reclaims space.
func (s *Service) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	n, err := s.codes.PurgeExpired(ctx, verification.Cutoff(s.now()))
	if err != nil {
		return 0, fmt.Errorf("purge codes: %w", err)
	}
	return n, nil
}

func (s *Service) loadUser(ctx context.Context, id string) (user.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}

func (s *Service) verifyCredentials(ctx context.Context, email, password string) (user.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) {
		// burn the same bcrypt time as a real comparison
		_ = security.CheckPassword(s.dummy(), password)
		return user.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return user.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := security.CheckPassword(u.PasswordHash, password); err != nil {
		return user.User{}, ErrInvalidCredentials
	}

	return u, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = security.HashPasswordCost("medcard-dummy-password", s.hashCost)
	})
	return s.dummyHash
}

func (s *Service) record(op string, errp *error) {
	s.rec.AuthEvent(op, ResultOf(*errp))
}

func validatePassword(p string) error {
	if len(p) < minPasswordBytes {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordBytes)
	}
	if len(p) > security.MaxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, security.MaxPasswordBytes)
	}
	return nil
}

// ResultOf classifies err into a short metrics label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	case errors.Is(err, ErrInvalidOrExpiredCode):
		return "invalid_code"
	case errors.Is(err, ErrUserAlreadyExists):
		return "user_exists"
	case errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidToken):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrNotificationFailure):
		return "notification_failed"
	default:
		return "error"
	}
}
