package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/portal/internal/auth"
	"github.com/hitoshi/portal/internal/middleware"
	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/notify"
	"github.com/hitoshi/portal/internal/session"
)

// --- モック定義 ---

type mockSessionService struct {
	status              session.Status
	providerLoginURLFn  func(state string) string
	loginWithProviderFn func(ctx context.Context, cb auth.ProviderCallback) (model.FederatedSession, error)
	loginLocalFn        func(ctx context.Context, email, password string) (model.LocalSession, error)
	signupLocalFn       func(ctx context.Context, email, password, displayName string) (model.LocalSession, error)
	logoutFn            func(ctx context.Context) error
}

func (m *mockSessionService) Status() session.Status { return m.status }

func (m *mockSessionService) ProviderLoginURL(state string) string {
	if m.providerLoginURLFn != nil {
		return m.providerLoginURLFn(state)
	}
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockSessionService) LoginWithProvider(ctx context.Context, cb auth.ProviderCallback) (model.FederatedSession, error) {
	if m.loginWithProviderFn != nil {
		return m.loginWithProviderFn(ctx, cb)
	}
	return model.FederatedSession{}, nil
}

func (m *mockSessionService) LoginLocal(ctx context.Context, email, password string) (model.LocalSession, error) {
	if m.loginLocalFn != nil {
		return m.loginLocalFn(ctx, email, password)
	}
	return model.LocalSession{}, nil
}

func (m *mockSessionService) SignupLocal(ctx context.Context, email, password, displayName string) (model.LocalSession, error) {
	if m.signupLocalFn != nil {
		return m.signupLocalFn(ctx, email, password, displayName)
	}
	return model.LocalSession{}, nil
}

func (m *mockSessionService) Logout(ctx context.Context) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	return nil
}

var _ SessionService = (*mockSessionService)(nil)

var _ Notifier = (*notify.Center)(nil)

// --- テストヘルパー ---

var testAuthConfig = AuthHandlerConfig{LoginPath: "/login", HomePath: "/home"}

var testLocal = model.LocalSession{ID: "u-1", Email: "test@test.com", DisplayName: "Test User"}

func resolved(s model.Session) session.Status {
	return session.Status{Resolved: true, Session: s}
}

func newTestCenter() *notify.Center {
	return notify.NewCenter(nil, notify.DefaultDuration)
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// assertNotifications は通知の重要度とメッセージを順に検証する。
func assertNotifications(t *testing.T, center *notify.Center, want ...string) {
	t.Helper()
	active := center.Active()
	got := make([]string, len(active))
	for i, n := range active {
		got[i] = string(n.Severity) + ":" + n.Message
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("notifications = %q, want %q", got, want)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- Session ---

func TestAuthHandler_Session_ReportsState(t *testing.T) {
	tests := []struct {
		name         string
		status       session.Status
		wantState    string
		wantUser     bool
		wantGreeting string
	}{
		{"initializing", session.Status{}, "initializing", false, ""},
		{"anonymous", resolved(model.Anonymous{}), "anonymous", false, ""},
		{"local", resolved(testLocal), "local", true, "Test User"},
		{"federated without name", resolved(model.FederatedSession{ProviderUserID: "g-1", Email: "jane@example.com"}), "federated", true, "jane"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockSessionService{status: tt.status}, newTestCenter(), testAuthConfig)

			w := httptest.NewRecorder()
			h.Session(w, httptest.NewRequest(http.MethodGet, "/auth/session", nil))

			var body sessionResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.State != tt.wantState {
				t.Errorf("state = %q, want %q", body.State, tt.wantState)
			}
			if (body.User != nil) != tt.wantUser {
				t.Errorf("user = %+v, want present=%v", body.User, tt.wantUser)
			}
			if body.Greeting != tt.wantGreeting {
				t.Errorf("greeting = %q, want %q", body.Greeting, tt.wantGreeting)
			}
		})
	}
}

// --- Login / Signup ---

func TestAuthHandler_Login_Success(t *testing.T) {
	svc := &mockSessionService{status: resolved(model.Anonymous{})}
	svc.loginLocalFn = func(ctx context.Context, email, password string) (model.LocalSession, error) {
		if email != "test@test.com" || password != "password123" {
			t.Errorf("LoginLocal(%q, %q)", email, password)
		}
		svc.status = resolved(testLocal)
		return testLocal, nil
	}
	center := newTestCenter()
	h := NewAuthHandler(svc, center, testAuthConfig)

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/auth/login", `{"email":"test@test.com","password":"password123"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.State != "local" || body.User == nil || body.User.ID != "u-1" {
		t.Errorf("body = %+v, want local session for u-1", body)
	}
	assertNotifications(t, center, "success:Successfully logged in")
}

func TestAuthHandler_Login_ValidationFailure(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"missing email", `{"password":"x"}`, "email: Email is required"},
		{"malformed email", `{"email":"not-an-email","password":"x"}`, "email: Valid email is required"},
		{"blank password", `{"email":"a@b.com","password":"   "}`, "password: Password is required"},
		{"broken json", `{`, "email: Email is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockSessionService{loginLocalFn: func(ctx context.Context, email, password string) (model.LocalSession, error) {
				t.Fatal("LoginLocal should not be called for invalid input")
				return model.LocalSession{}, nil
			}}
			center := newTestCenter()
			h := NewAuthHandler(svc, center, testAuthConfig)

			w := httptest.NewRecorder()
			h.Login(w, jsonRequest(http.MethodPost, "/auth/login", tt.body))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			body := decodeError(t, w)
			if body.Code != model.ErrCodeValidationFailed {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeValidationFailed)
			}
			if !strings.Contains(body.Message, tt.wantField) {
				t.Errorf("message = %q, want it to contain %q", body.Message, tt.wantField)
			}
			assertNotifications(t, center, "error:Please fix the form errors")
		})
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	svc := &mockSessionService{
		status: resolved(model.Anonymous{}),
		loginLocalFn: func(ctx context.Context, email, password string) (model.LocalSession, error) {
			return model.LocalSession{}, model.ErrInvalidCredentials
		},
	}
	center := newTestCenter()
	h := NewAuthHandler(svc, center, testAuthConfig)

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/auth/login", `{"email":"test@test.com","password":"wrong"}`))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCredentials)
	}
	assertNotifications(t, center, "error:Invalid credentials")
}

// 永続化だけが失敗した場合はログイン成功と警告の両方が通知されることを検証する。
func TestAuthHandler_Login_StorageFailureAfterSessionIsWarning(t *testing.T) {
	svc := &mockSessionService{}
	svc.loginLocalFn = func(ctx context.Context, email, password string) (model.LocalSession, error) {
		svc.status = resolved(testLocal)
		return testLocal, fmt.Errorf("%w: disk full", model.ErrStorageUnavailable)
	}
	center := newTestCenter()
	h := NewAuthHandler(svc, center, testAuthConfig)

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/auth/login", `{"email":"test@test.com","password":"password123"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	assertNotifications(t, center,
		"warning:"+msgSessionNotStored,
		"success:Successfully logged in",
	)
}

func TestAuthHandler_Login_StorageFailureWithoutSessionIsError(t *testing.T) {
	svc := &mockSessionService{
		status: resolved(testLocal),
		loginLocalFn: func(ctx context.Context, email, password string) (model.LocalSession, error) {
			return model.LocalSession{}, fmt.Errorf("%w: db closed", model.ErrStorageUnavailable)
		},
	}
	h := NewAuthHandler(svc, newTestCenter(), testAuthConfig)

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/auth/login", `{"email":"test@test.com","password":"password123"}`))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestAuthHandler_Signup_Success(t *testing.T) {
	svc := &mockSessionService{}
	svc.signupLocalFn = func(ctx context.Context, email, password, name string) (model.LocalSession, error) {
		if name != "Alice" {
			t.Errorf("displayName = %q, want %q", name, "Alice")
		}
		s := model.LocalSession{ID: "u-2", Email: email, DisplayName: name}
		svc.status = resolved(s)
		return s, nil
	}
	center := newTestCenter()
	h := NewAuthHandler(svc, center, testAuthConfig)

	w := httptest.NewRecorder()
	h.Signup(w, jsonRequest(http.MethodPost, "/auth/signup", `{"email":"a@b.com","password":"pw1","name":"Alice"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var body sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Greeting != "Alice" {
		t.Errorf("greeting = %q, want %q", body.Greeting, "Alice")
	}
	assertNotifications(t, center, "success:Successfully signed up")
}

func TestAuthHandler_Signup_RequiresName(t *testing.T) {
	h := NewAuthHandler(&mockSessionService{}, newTestCenter(), testAuthConfig)

	w := httptest.NewRecorder()
	h.Signup(w, jsonRequest(http.MethodPost, "/auth/signup", `{"email":"a@b.com","password":"pw1"}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); !strings.Contains(body.Message, "name: Name is required") {
		t.Errorf("message = %q, want name error", body.Message)
	}
}

func TestAuthHandler_Signup_Duplicate(t *testing.T) {
	svc := &mockSessionService{
		signupLocalFn: func(ctx context.Context, email, password, name string) (model.LocalSession, error) {
			return model.LocalSession{}, model.ErrDuplicateIdentity
		},
	}
	center := newTestCenter()
	h := NewAuthHandler(svc, center, testAuthConfig)

	w := httptest.NewRecorder()
	h.Signup(w, jsonRequest(http.MethodPost, "/auth/signup", `{"email":"a@b.com","password":"pw2","name":"Bob"}`))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	assertNotifications(t, center, "error:User already exists")
}

// --- Google OAuth ---

func TestAuthHandler_GoogleLogin_SetsStateCookieAndRedirects(t *testing.T) {
	var gotState string
	svc := &mockSessionService{providerLoginURLFn: func(state string) string {
		gotState = state
		return "https://accounts.google.com/o/oauth2/auth?state=" + state
	}}
	h := NewAuthHandler(svc, newTestCenter(), testAuthConfig)

	w := httptest.NewRecorder()
	h.GoogleLogin(w, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://accounts.google.com/") {
		t.Errorf("Location = %q, want provider URL", loc)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == oauthStateCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected oauth_state cookie")
	}
	if cookie.Value != gotState || len(gotState) != 32 {
		t.Errorf("cookie = %q, state = %q; want matching 32-char state", cookie.Value, gotState)
	}
	if !cookie.HttpOnly {
		t.Error("oauth_state cookie should be HttpOnly")
	}
}

func TestAuthHandler_GoogleCallback_StateMismatch(t *testing.T) {
	tests := []struct {
		name   string
		target string
		cookie string
	}{
		{"no cookie", "/auth/google/callback?code=c&state=s1", ""},
		{"different state", "/auth/google/callback?code=c&state=s1", "s2"},
		{"empty state", "/auth/google/callback?code=c", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockSessionService{loginWithProviderFn: func(ctx context.Context, cb auth.ProviderCallback) (model.FederatedSession, error) {
				t.Fatal("LoginWithProvider should not be called on state mismatch")
				return model.FederatedSession{}, nil
			}}
			h := NewAuthHandler(svc, newTestCenter(), testAuthConfig)

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.GoogleCallback(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := decodeError(t, w); body.Code != model.ErrCodeInvalidState {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidState)
			}
		})
	}
}

func TestAuthHandler_GoogleCallback_Success(t *testing.T) {
	var gotCB auth.ProviderCallback
	svc := &mockSessionService{loginWithProviderFn: func(ctx context.Context, cb auth.ProviderCallback) (model.FederatedSession, error) {
		gotCB = cb
		return model.FederatedSession{ProviderUserID: "g-1"}, nil
	}}
	center := newTestCenter()
	h := NewAuthHandler(svc, center, testAuthConfig)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state=st", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st"})
	w := httptest.NewRecorder()
	h.GoogleCallback(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	if loc := w.Header().Get("Location"); loc != "/home" {
		t.Errorf("Location = %q, want %q", loc, "/home")
	}
	if gotCB.Code != "auth-code" {
		t.Errorf("callback code = %q, want %q", gotCB.Code, "auth-code")
	}
	assertNotifications(t, center, "success:Successfully logged in with Google")
}

func TestAuthHandler_GoogleCallback_CancelledRedirectsToLogin(t *testing.T) {
	var gotCB auth.ProviderCallback
	svc := &mockSessionService{loginWithProviderFn: func(ctx context.Context, cb auth.ProviderCallback) (model.FederatedSession, error) {
		gotCB = cb
		return model.FederatedSession{}, fmt.Errorf("%w: %w", model.ErrProviderAuthFailed, auth.ErrSignInCancelled)
	}}
	center := newTestCenter()
	h := NewAuthHandler(svc, center, testAuthConfig)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied&state=st", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st"})
	w := httptest.NewRecorder()
	h.GoogleCallback(w, req)

	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want %q", loc, "/login")
	}
	if gotCB.Error != "access_denied" {
		t.Errorf("callback error = %q, want %q", gotCB.Error, "access_denied")
	}
	assertNotifications(t, center, "error:Google authentication failed")
}

// --- Logout ---

func TestAuthHandler_Logout_RedirectsToLogin(t *testing.T) {
	called := false
	svc := &mockSessionService{logoutFn: func(ctx context.Context) error {
		called = true
		return nil
	}}
	center := newTestCenter()
	h := NewAuthHandler(svc, center, testAuthConfig)

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if !called {
		t.Error("Logout should be called")
	}
	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want %q", loc, "/login")
	}
	assertNotifications(t, center)
}

func TestAuthHandler_Logout_ProviderFailureStillRedirects(t *testing.T) {
	svc := &mockSessionService{logoutFn: func(ctx context.Context) error {
		return errors.Join(fmt.Errorf("%w: revoke failed", model.ErrProviderAuthFailed))
	}}
	center := newTestCenter()
	h := NewAuthHandler(svc, center, testAuthConfig)

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	assertNotifications(t, center, "error:Google authentication failed")
}
