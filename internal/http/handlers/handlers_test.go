package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/medcard/internal/account"
	"github.com/geocoder89/medcard/internal/auth"
	"github.com/geocoder89/medcard/internal/domain/user"
	"github.com/geocoder89/medcard/internal/http/handlers"
	"github.com/geocoder89/medcard/internal/http/middlewares"
	"github.com/geocoder89/medcard/internal/storage"
)

// Make sure Gin does not spam the console during the test
func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAccounts implements handlers.AuthService and handlers.UsersService.
type fakeAccounts struct {
	issueCodeFn      func(ctx context.Context, email string) error
	registerFn       func(ctx context.Context, email, code, password string) (user.User, auth.TokenPair, error)
	loginFn          func(ctx context.Context, email, password string) (user.User, auth.TokenPair, error)
	refreshFn        func(ctx context.Context, token string) (string, error)
	changePasswordFn func(ctx context.Context, email, current, next string) error
	changeEmailFn    func(ctx context.Context, actorID, current, next, code string) error
	getUserFn        func(ctx context.Context, actorID, id string) (user.User, error)
	updateProfileFn  func(ctx context.Context, actorID, userID string, patch user.ProfilePatch) (user.User, error)
	setRoleFn        func(ctx context.Context, actorID, userID string, role user.Role) (user.User, error)
	shareCardFn      func(ctx context.Context, actorID, patientID, doctorID string) error
	listUsersFn      func(ctx context.Context, f user.ListFilter) (user.Page, error)
	listSharedFn     func(ctx context.Context, actorID, doctorID string, f user.ListFilter) (user.Page, error)
}

func (f *fakeAccounts) IssueCode(ctx context.Context, email string) error {
	if f.issueCodeFn != nil {
		return f.issueCodeFn(ctx, email)
	}
	return nil
}

func (f *fakeAccounts) Register(ctx context.Context, email, code, password string) (user.User, auth.TokenPair, error) {
	if f.registerFn != nil {
		return f.registerFn(ctx, email, code, password)
	}
	return user.User{}, auth.TokenPair{}, nil
}

func (f *fakeAccounts) Login(ctx context.Context, email, password string) (user.User, auth.TokenPair, error) {
	if f.loginFn != nil {
		return f.loginFn(ctx, email, password)
	}
	return user.User{}, auth.TokenPair{}, nil
}

func (f *fakeAccounts) RefreshAccessToken(ctx context.Context, token string) (string, error) {
	if f.refreshFn != nil {
		return f.refreshFn(ctx, token)
	}
	return "", nil
}

func (f *fakeAccounts) ChangePassword(ctx context.Context, email, current, next string) error {
	if f.changePasswordFn != nil {
		return f.changePasswordFn(ctx, email, current, next)
	}
	return nil
}

func (f *fakeAccounts) ChangeEmail(ctx context.Context, actorID, current, next, code string) error {
	if f.changeEmailFn != nil {
		return f.changeEmailFn(ctx, actorID, current, next, code)
	}
	return nil
}

func (f *fakeAccounts) GetUser(ctx context.Context, actorID, id string) (user.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, actorID, id)
	}
	return user.User{ID: id}, nil
}

func (f *fakeAccounts) UpdateProfile(ctx context.Context, actorID, userID string, patch user.ProfilePatch) (user.User, error) {
	if f.updateProfileFn != nil {
		return f.updateProfileFn(ctx, actorID, userID, patch)
	}
	return user.User{ID: userID}, nil
}

func (f *fakeAccounts) SetRole(ctx context.Context, actorID, userID string, role user.Role) (user.User, error) {
	if f.setRoleFn != nil {
		return f.setRoleFn(ctx, actorID, userID, role)
	}
	return user.User{ID: userID, Role: role}, nil
}

func (f *fakeAccounts) ShareCard(ctx context.Context, actorID, patientID, doctorID string) error {
	if f.shareCardFn != nil {
		return f.shareCardFn(ctx, actorID, patientID, doctorID)
	}
	return nil
}

func (f *fakeAccounts) ListUsers(ctx context.Context, fl user.ListFilter) (user.Page, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx, fl)
	}
	return user.Page{Items: []user.User{}, Page: fl.Page, Limit: fl.Limit}, nil
}

func (f *fakeAccounts) ListSharedCards(ctx context.Context, actorID, doctorID string, fl user.ListFilter) (user.Page, error) {
	if f.listSharedFn != nil {
		return f.listSharedFn(ctx, actorID, doctorID, fl)
	}
	return user.Page{Items: []user.User{}, Page: fl.Page, Limit: fl.Limit}, nil
}

// asUser plays the part of RequireAuth.
func asUser(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middlewares.CtxUserID, id)
		c.Next()
	}
}

func setupRouter(method, path string, handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.RequestID())
	r.Handle(method, path, handlers...)
	return r
}

func doJSON(r http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Error handlers.APIError `json:"error"`
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var env errorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid error body: %v %s", err, w.Body.String())
	}
	if env.Error.RequestID == "" {
		t.Fatalf("error envelope must carry the request id: %s", w.Body.String())
	}
	return env.Error.Code
}

func TestSendCode(t *testing.T) {
	var gotEmail string
	svc := &fakeAccounts{issueCodeFn: func(_ context.Context, email string) error {
		gotEmail = email
		return nil
	}}
	h := handlers.NewAuthHandler(svc)
	r := setupRouter(http.MethodPost, "/auth/send-code", h.SendCode)

	w := doJSON(r, http.MethodPost, "/auth/send-code", `{"email":"a@x.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if gotEmail != "a@x.com" {
		t.Fatalf("service got %q", gotEmail)
	}

	svc.issueCodeFn = func(context.Context, string) error {
		return fmt.Errorf("%w: smtp down", account.ErrNotificationFailure)
	}
	w = doJSON(r, http.MethodPost, "/auth/send-code", `{"email":"a@x.com"}`)
	if w.Code != http.StatusBadGateway || errorCode(t, w) != "notification_failed" {
		t.Fatalf("expected 502 notification_failed, got %d %s", w.Code, w.Body.String())
	}
}

func TestRegister(t *testing.T) {
	svc := &fakeAccounts{}
	h := handlers.NewAuthHandler(svc)
	r := setupRouter(http.MethodPost, "/auth/verify-code", h.Register)

	body := `{"email":"a@x.com","code":"123456","password":"correct horse"}`

	svc.registerFn = func(_ context.Context, email, code, password string) (user.User, auth.TokenPair, error) {
		if code != "123456" || password != "correct horse" {
			t.Fatalf("unexpected args %q %q", code, password)
		}
		return user.User{ID: "u-1", Email: email, PasswordHash: "$2a$secret"},
			auth.TokenPair{AccessToken: "acc", RefreshToken: "ref"}, nil
	}

	w := doJSON(r, http.MethodPost, "/auth/verify-code", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}

	var resp handlers.AuthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken != "acc" || resp.RefreshToken != "ref" || resp.User == nil || resp.User.ID != "u-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("$2a$secret")) {
		t.Fatalf("password hash leaked: %s", w.Body.String())
	}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid_code", account.ErrInvalidOrExpiredCode, http.StatusBadRequest, "invalid_code"},
		{"exists", account.ErrUserAlreadyExists, http.StatusConflict, "user_exists"},
		{"weak_password", fmt.Errorf("%w: password must be at least 8 characters", account.ErrValidation), http.StatusBadRequest, "invalid_request"},
		{"unexpected", errors.New("mongo exploded"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			svc.registerFn = func(context.Context, string, string, string) (user.User, auth.TokenPair, error) {
				return user.User{}, auth.TokenPair{}, tt.err
			}

			w := doJSON(r, http.MethodPost, "/auth/verify-code", body)
			if w.Code != tt.status {
				t.Fatalf("got %d want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if got := errorCode(t, w); got != tt.code {
				t.Fatalf("got code %q want %q", got, tt.code)
			}
			if bytes.Contains(w.Body.Bytes(), []byte("mongo")) {
				t.Fatalf("internal error detail leaked: %s", w.Body.String())
			}
		})
	}
}

func TestRegister_ValidationMessageIsCallerFacing(t *testing.T) {
	svc := &fakeAccounts{registerFn: func(context.Context, string, string, string) (user.User, auth.TokenPair, error) {
		return user.User{}, auth.TokenPair{}, fmt.Errorf("%w: password must be at least 8 characters", account.ErrValidation)
	}}
	h := handlers.NewAuthHandler(svc)
	r := setupRouter(http.MethodPost, "/auth/verify-code", h.Register)

	w := doJSON(r, http.MethodPost, "/auth/verify-code", `{"email":"a@x.com","code":"123456","password":"short"}`)

	var env errorEnvelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	if env.Error.Message != "password must be at least 8 characters" {
		t.Fatalf("unexpected message %q", env.Error.Message)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &fakeAccounts{loginFn: func(context.Context, string, string) (user.User, auth.TokenPair, error) {
		return user.User{}, auth.TokenPair{}, account.ErrInvalidCredentials
	}}
	h := handlers.NewAuthHandler(svc)
	r := setupRouter(http.MethodPost, "/auth/login", h.Login)

	w := doJSON(r, http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"wrong-pass"}`)
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d %s", w.Code, w.Body.String())
	}
}

func TestRefresh(t *testing.T) {
	svc := &fakeAccounts{refreshFn: func(_ context.Context, token string) (string, error) {
		if token != "good" {
			return "", account.ErrInvalidToken
		}
		return "new-access", nil
	}}
	h := handlers.NewAuthHandler(svc)
	r := setupRouter(http.MethodPost, "/auth/refresh-token", h.Refresh)

	w := doJSON(r, http.MethodPost, "/auth/refresh-token", `{"token":"good"}`)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"accessToken":"new-access"`)) {
		t.Fatalf("unexpected refresh response %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/auth/refresh-token", `{"token":"bad"}`)
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "unauthorized" {
		t.Fatalf("expected 401, got %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/auth/refresh-token", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing token, got %d", w.Code)
	}
}

func TestChangeEmail_UsesActor(t *testing.T) {
	var gotActor string
	svc := &fakeAccounts{changeEmailFn: func(_ context.Context, actorID, _, _, _ string) error {
		gotActor = actorID
		return nil
	}}
	h := handlers.NewAuthHandler(svc)
	body := `{"currentEmail":"a@x.com","newEmail":"b@x.com","code":"123456"}`

	anon := setupRouter(http.MethodPost, "/auth/change-email", h.ChangeEmail)
	if w := doJSON(anon, http.MethodPost, "/auth/change-email", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without actor, got %d", w.Code)
	}

	r := setupRouter(http.MethodPost, "/auth/change-email", asUser("u-1"), h.ChangeEmail)
	if w := doJSON(r, http.MethodPost, "/auth/change-email", body); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if gotActor != "u-1" {
		t.Fatalf("actor not forwarded, got %q", gotActor)
	}
}

func TestChangePassword_Errors(t *testing.T) {
	svc := &fakeAccounts{changePasswordFn: func(context.Context, string, string, string) error {
		return account.ErrInvalidCredentials
	}}
	h := handlers.NewAuthHandler(svc)
	r := setupRouter(http.MethodPost, "/auth/change-password", h.ChangePassword)

	w := doJSON(r, http.MethodPost, "/auth/change-password", `{"email":"a@x.com","currentPassword":"old-pass","newPassword":"new-pass-1"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestGetUser_ETag(t *testing.T) {
	svc := &fakeAccounts{getUserFn: func(_ context.Context, actorID, id string) (user.User, error) {
		if id == "missing" {
			return user.User{}, account.ErrUserNotFound
		}
		return user.User{ID: id, Email: "a@x.com"}, nil
	}}
	h := handlers.NewUsersHandler(svc, 0)
	r := setupRouter(http.MethodGet, "/users/:id", asUser("u-1"), h.GetByID)

	w := doJSON(r, http.MethodGet, "/users/u-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag header")
	}

	w = doJSON(r, http.MethodGet, "/users/u-1", "", "If-None-Match", "W/"+etag)
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/users/missing", "")
	if w.Code != http.StatusNotFound || errorCode(t, w) != "not_found" {
		t.Fatalf("expected 404, got %d %s", w.Code, w.Body.String())
	}
}

func TestMe_LooksUpActor(t *testing.T) {
	var gotID string
	svc := &fakeAccounts{getUserFn: func(_ context.Context, actorID, id string) (user.User, error) {
		gotID = id
		return user.User{ID: id}, nil
	}}
	h := handlers.NewUsersHandler(svc, 0)
	r := setupRouter(http.MethodGet, "/users/me", asUser("u-7"), h.Me)

	if w := doJSON(r, http.MethodGet, "/users/me", ""); w.Code != http.StatusOK || gotID != "u-7" {
		t.Fatalf("unexpected: %d %q", w.Code, gotID)
	}
}

func TestList_CachesDirectoryUntilMutation(t *testing.T) {
	calls := 0
	svc := &fakeAccounts{listUsersFn: func(_ context.Context, f user.ListFilter) (user.Page, error) {
		calls++
		if f.Limit != user.MaxPageSize {
			t.Fatalf("limit should be clamped to %d, got %d", user.MaxPageSize, f.Limit)
		}
		return user.Page{Items: []user.User{{ID: "d-1", Role: user.RoleDoctor}}, Total: 1, Page: f.Page, Limit: f.Limit}, nil
	}}
	h := handlers.NewUsersHandler(svc, 0)

	r := gin.New()
	r.Use(middlewares.RequestID(), asUser("u-1"))
	r.GET("/users", h.List)
	r.PATCH("/users/:id", h.UpdateProfile)

	target := "/users?role=Doctor&limit=1000"

	if w := doJSON(r, http.MethodGet, target, ""); w.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first call should miss")
	}
	if w := doJSON(r, http.MethodGet, target, ""); w.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second call should hit")
	}
	if calls != 1 {
		t.Fatalf("expected one service call, got %d", calls)
	}

	if w := doJSON(r, http.MethodPatch, "/users/u-1", `{"position":"Surgeon"}`); w.Code != http.StatusOK {
		t.Fatalf("patch failed: %d %s", w.Code, w.Body.String())
	}

	if w := doJSON(r, http.MethodGet, target, ""); w.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("profile update should invalidate the directory")
	}
	if calls != 2 {
		t.Fatalf("expected two service calls, got %d", calls)
	}
}

func TestUpdateProfile_Forbidden(t *testing.T) {
	svc := &fakeAccounts{updateProfileFn: func(_ context.Context, actorID, userID string, _ user.ProfilePatch) (user.User, error) {
		if actorID != userID {
			return user.User{}, account.ErrForbidden
		}
		return user.User{ID: userID}, nil
	}}
	h := handlers.NewUsersHandler(svc, 0)
	r := setupRouter(http.MethodPatch, "/users/:id", asUser("u-1"), h.UpdateProfile)

	w := doJSON(r, http.MethodPatch, "/users/u-2", `{"firstName":"Mallory"}`)
	if w.Code != http.StatusForbidden || errorCode(t, w) != "forbidden" {
		t.Fatalf("expected 403, got %d %s", w.Code, w.Body.String())
	}
}

func TestSetRole(t *testing.T) {
	var gotRole user.Role
	svc := &fakeAccounts{setRoleFn: func(_ context.Context, _, userID string, role user.Role) (user.User, error) {
		gotRole = role
		return user.User{ID: userID, Role: role}, nil
	}}
	h := handlers.NewUsersHandler(svc, 0)
	r := setupRouter(http.MethodPut, "/users/:id/role", asUser("u-1"), h.SetRole)

	w := doJSON(r, http.MethodPut, "/users/u-1/role", `{"role":"Doctor"}`)
	if w.Code != http.StatusOK || gotRole != user.RoleDoctor {
		t.Fatalf("unexpected %d %q", w.Code, gotRole)
	}
}

func TestShareCard_InvalidTarget(t *testing.T) {
	svc := &fakeAccounts{shareCardFn: func(context.Context, string, string, string) error {
		return account.ErrInvalidTarget
	}}
	h := handlers.NewUsersHandler(svc, 0)
	r := setupRouter(http.MethodPost, "/users/:id/share", asUser("u-1"), h.ShareCard)

	w := doJSON(r, http.MethodPost, "/users/u-1/share", `{"doctorId":"u-2"}`)
	if w.Code != http.StatusUnprocessableEntity || errorCode(t, w) != "invalid_target" {
		t.Fatalf("expected 422 invalid_target, got %d %s", w.Code, w.Body.String())
	}
}

func TestSharedCards(t *testing.T) {
	svc := &fakeAccounts{listSharedFn: func(_ context.Context, actorID, doctorID string, f user.ListFilter) (user.Page, error) {
		if actorID != doctorID {
			return user.Page{}, account.ErrForbidden
		}
		if f.Search == nil || *f.Search != "ann" || f.Page != 1 || f.Limit != user.DefaultPageSize {
			t.Fatalf("unexpected filter %+v", f)
		}
		return user.Page{Items: []user.User{{ID: "p-1"}}, Total: 1, Page: 1, Limit: f.Limit}, nil
	}}
	h := handlers.NewUsersHandler(svc, 0)
	r := setupRouter(http.MethodGet, "/doctors/:id/cards", asUser("d-1"), h.SharedCards)

	if w := doJSON(r, http.MethodGet, "/doctors/d-1/cards?search=ann", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(r, http.MethodGet, "/doctors/d-2/cards?search=ann", ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

type fakeUploader struct {
	uploadFn func(ctx context.Context, userID string, data []byte) (storage.Object, error)
}

func (f *fakeUploader) Upload(ctx context.Context, userID string, data []byte) (storage.Object, error) {
	return f.uploadFn(ctx, userID, data)
}

func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "scan.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestFilesUpload(t *testing.T) {
	up := &fakeUploader{uploadFn: func(_ context.Context, userID string, data []byte) (storage.Object, error) {
		if string(data) == "text" {
			return storage.Object{}, storage.ErrUnsupportedType
		}
		return storage.Object{Key: "users/" + userID + "/x.png", URL: "https://cdn/x.png"}, nil
	}}
	h := handlers.NewFilesHandler(up, 16)
	r := setupRouter(http.MethodPost, "/files", asUser("u-1"), h.Upload)

	tests := []struct {
		name   string
		field  string
		data   string
		status int
	}{
		{name: "ok", field: "file", data: "png-bytes", status: http.StatusCreated},
		{name: "unsupported", field: "file", data: "text", status: http.StatusUnsupportedMediaType},
		{name: "too_large", field: "file", data: "0123456789abcdefXYZ", status: http.StatusRequestEntityTooLarge},
		{name: "missing_field", field: "other", data: "png-bytes", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.field, []byte(tt.data))
			req := httptest.NewRequest(http.MethodPost, "/files", body)
			req.Header.Set("Content-Type", ct)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("got %d want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestReadyz(t *testing.T) {
	healthy := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"store": func(context.Context) error { return nil },
	})
	r := setupRouter(http.MethodGet, "/readyz", healthy.Readyz)
	if w := doJSON(r, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	broken := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"store": func(context.Context) error { return errors.New("connection refused 10.0.0.5") },
	})
	r = setupRouter(http.MethodGet, "/readyz", broken.Readyz)
	w := doJSON(r, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("10.0.0.5")) {
		t.Fatalf("readiness must not leak dependency errors: %s", w.Body.String())
	}
}
