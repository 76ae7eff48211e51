package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/session"
)

// --- モック定義 ---

type mockStatusSource struct {
	mu sync.Mutex
	st session.Status
}

func (m *mockStatusSource) Status() session.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

func (m *mockStatusSource) set(st session.Status) {
	m.mu.Lock()
	m.st = st
	m.mu.Unlock()
}

var _ StatusSource = (*mockStatusSource)(nil)

func localStatus() session.Status {
	return session.Status{Resolved: true, Session: model.LocalSession{ID: "u-1", Email: "test@test.com", DisplayName: "Test User"}}
}

// --- テスト ---

func TestAccessGuardMiddleware_Decisions(t *testing.T) {
	tests := []struct {
		name         string
		status       session.Status
		wantStatus   int
		wantCalled   bool
		wantLocation string
	}{
		{
			name:       "initializing suspends",
			status:     session.Status{},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:         "anonymous redirects to login",
			status:       session.Status{Resolved: true, Session: model.Anonymous{}},
			wantStatus:   http.StatusSeeOther,
			wantLocation: "/login",
		},
		{
			name:       "local session allowed",
			status:     localStatus(),
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "federated session allowed",
			status:     session.Status{Resolved: true, Session: model.FederatedSession{ProviderUserID: "g-1"}},
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &mockStatusSource{st: tt.status}
			called := false
			handler := NewAccessGuardMiddleware(source, "/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/home", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("next called = %v, want %v", called, tt.wantCalled)
			}
			if got := w.Header().Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
		})
	}
}

func TestAccessGuardMiddleware_SuspendHasEmptyBodyAndRetryAfter(t *testing.T) {
	handler := NewAccessGuardMiddleware(&mockStatusSource{}, "/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not be called while initializing")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/home", nil))

	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
}

// 判定はリクエストごとに再計算され、状態変化が次のリクエストに反映されることを検証する。
func TestAccessGuardMiddleware_ReevaluatesOnEveryRequest(t *testing.T) {
	source := &mockStatusSource{}
	handler := NewAccessGuardMiddleware(source, "/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	steps := []struct {
		status session.Status
		want   int
	}{
		{session.Status{}, http.StatusServiceUnavailable},
		{localStatus(), http.StatusOK},
		{session.Status{Resolved: true, Session: model.Anonymous{}}, http.StatusSeeOther},
		{localStatus(), http.StatusOK},
	}

	for i, step := range steps {
		source.set(step.status)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
		if w.Code != step.want {
			t.Errorf("step %d: status = %d, want %d", i, w.Code, step.want)
		}
	}
}
