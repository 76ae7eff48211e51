package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/portal/internal/middleware"
	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/notify"
	"github.com/hitoshi/portal/internal/session"
)

type routerFixture struct {
	router   http.Handler
	sessions *mockSessionService
	center   *notify.Center
}

func newRouterFixture(t *testing.T, cfg middleware.RateLimiterConfig) *routerFixture {
	t.Helper()
	rl := middleware.NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)

	f := &routerFixture{
		sessions: &mockSessionService{status: resolved(model.Anonymous{})},
		center:   newTestCenter(),
	}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	f.router = NewRouter(&RouterDeps{
		Logger:         slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)),
		RateLimiter:    rl,
		Sessions:       f.sessions,
		AuthConfig:     testAuthConfig,
		Notifier:       f.center,
		Profiles:       &mockProfileService{},
		MetricsHandler: metricsHandler,
	})
	return f
}

// withCSRF はdouble submit cookie用のトークンを付与する。
func withCSRF(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
	req.Header.Set("X-CSRF-Token", "tok")
	return req
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRouter_OperationalRoutes(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Body.String() != "{\"status\":\"ok\"}\n" {
		t.Errorf("GET /health = %d %q", w.Code, w.Body.String())
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_GuardedRoutesFollowSessionState(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	tests := []struct {
		name   string
		status session.Status
		path   string
		want   int
	}{
		{"home while initializing", session.Status{}, "/home", http.StatusServiceUnavailable},
		{"home anonymous", resolved(model.Anonymous{}), "/home", http.StatusSeeOther},
		{"profile anonymous", resolved(model.Anonymous{}), "/api/profile", http.StatusSeeOther},
		{"home local", resolved(testLocal), "/home", http.StatusOK},
		{"profile federated", resolved(model.FederatedSession{ProviderUserID: "g-1"}), "/api/profile", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.sessions.status = tt.status
			w := f.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("GET %s status = %d, want %d", tt.path, w.Code, tt.want)
			}
		})
	}
}

func TestRouter_HomeReturnsGreeting(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())
	f.sessions.status = resolved(testLocal)
	f.center.Push(context.Background(), notify.SeverityInfo, "hello", 0)

	w := f.do(httptest.NewRequest(http.MethodGet, "/home", nil))

	var body homeResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Greeting != "Test User" || body.State != "local" || body.Notifications != 1 {
		t.Errorf("body = %+v, want local/Test User/1 notification", body)
	}
}

func TestRouter_LoginRequiresCSRFToken(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())
	f.sessions.loginLocalFn = func(ctx context.Context, email, password string) (model.LocalSession, error) {
		f.sessions.status = resolved(testLocal)
		return testLocal, nil
	}
	body := `{"email":"test@test.com","password":"password123"}`

	w := f.do(jsonRequest(http.MethodPost, "/auth/login", body))
	if w.Code != http.StatusForbidden {
		t.Fatalf("without token: status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = f.do(withCSRF(jsonRequest(http.MethodPost, "/auth/login", body)))
	if w.Code != http.StatusOK {
		t.Fatalf("with token: status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want %q", got, "no-store")
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	var sess sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&sess); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if sess.State != "local" {
		t.Errorf("state after login = %q, want %q", sess.State, "local")
	}
}

func TestRouter_AuthRoutesHaveStricterRateLimit(t *testing.T) {
	cfg := middleware.NewRateLimiterConfig(100, 2)
	f := newRouterFixture(t, cfg)
	body := `{"email":"bad","password":"x"}`

	for i := 0; i < 2; i++ {
		w := f.do(withCSRF(jsonRequest(http.MethodPost, "/auth/login", body)))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusBadRequest)
		}
	}

	w := f.do(withCSRF(jsonRequest(http.MethodPost, "/auth/login", body)))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("third login: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	if w.Code != http.StatusOK {
		t.Errorf("session endpoint after auth limit: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_LogoutAndNotifications(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())
	f.sessions.status = resolved(testLocal)
	f.sessions.logoutFn = func(ctx context.Context) error {
		f.sessions.status = resolved(model.Anonymous{})
		return nil
	}

	w := f.do(withCSRF(httptest.NewRequest(http.MethodPost, "/auth/logout", nil)))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
		t.Errorf("logout = %d %q, want 303 /login", w.Code, w.Header().Get("Location"))
	}

	n := f.center.Push(context.Background(), notify.SeverityInfo, "bye", 0)
	w = f.do(withCSRF(httptest.NewRequest(http.MethodDelete, "/api/notifications/"+n.ID, nil)))
	if w.Code != http.StatusNoContent {
		t.Errorf("dismiss status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
