package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/portal/internal/auth"
	"github.com/hitoshi/portal/internal/middleware"
	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/notify"
	"github.com/hitoshi/portal/internal/session"
)

const oauthStateCookie = "oauth_state"

// 利用者に表示する通知メッセージ。
const (
	msgFormErrors       = "Please fix the form errors"
	msgLoggedIn         = "Successfully logged in"
	msgSignedUp         = "Successfully signed up"
	msgGoogleLoggedIn   = "Successfully logged in with Google"
	msgGoogleFailed     = "Google authentication failed"
	msgSessionNotStored = "Session could not be saved locally; you will need to log in again after restart"
)

// SessionService は認証ハンドラーが必要とするセッション操作。
type SessionService interface {
	Status() session.Status
	ProviderLoginURL(state string) string
	LoginWithProvider(ctx context.Context, cb auth.ProviderCallback) (model.FederatedSession, error)
	LoginLocal(ctx context.Context, email, password string) (model.LocalSession, error)
	SignupLocal(ctx context.Context, email, password, displayName string) (model.LocalSession, error)
	Logout(ctx context.Context) error
}

// Notifier は利用者向けの通知を保持する。
type Notifier interface {
	Push(ctx context.Context, severity notify.Severity, message string, duration time.Duration) notify.Notification
	Active() []notify.Notification
	Dismiss(ctx context.Context, id string) bool
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	LoginPath    string
	HomePath     string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はログイン・サインアップ・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	sessions SessionService
	notifier Notifier
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionService, notifier Notifier, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		notifier: notifier,
		config:   config,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type userResponse struct {
	Kind           string `json:"kind"`
	ID             string `json:"id,omitempty"`
	ProviderUserID string `json:"providerUserId,omitempty"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
}

type sessionResponse struct {
	State    string        `json:"state"`
	User     *userResponse `json:"user"`
	Greeting string        `json:"greeting"`
}

// toSessionResponse はセッション状態をAPIレスポンスに変換する。
// greetingはログイン済みの場合のみ設定する。
func toSessionResponse(st session.Status) sessionResponse {
	resp := sessionResponse{State: st.State()}
	if !st.Resolved || st.Session == nil {
		return resp
	}
	resp.User = model.MatchSession(st.Session,
		func() *userResponse { return nil },
		func(l model.LocalSession) *userResponse {
			return &userResponse{Kind: string(model.SessionKindLocal), ID: l.ID, Email: l.Email, DisplayName: l.DisplayName}
		},
		func(f model.FederatedSession) *userResponse {
			return &userResponse{Kind: string(model.SessionKindFederated), ProviderUserID: f.ProviderUserID, Email: f.Email, DisplayName: f.DisplayName}
		},
	)
	if resp.User != nil {
		resp.Greeting = model.GreetingName(st.Session)
	}
	return resp
}

// Session は現在のセッション状態を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSessionResponse(h.sessions.Status()))
}

// Login はローカル資格情報でログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decodeCredentials(w, r, &req, false) {
		return
	}

	sess, err := h.sessions.LoginLocal(r.Context(), req.Email, req.Password)
	h.finishLocal(w, r, sess, err, msgLoggedIn, http.StatusOK)
}

// Signup は資格情報を登録してログインする。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decodeCredentials(w, r, &req, true) {
		return
	}

	sess, err := h.sessions.SignupLocal(r.Context(), req.Email, req.Password, req.Name)
	h.finishLocal(w, r, sess, err, msgSignedUp, http.StatusCreated)
}

// decodeCredentials はボディを読み取って検証する。失敗時はレスポンスを書き込みfalseを返す。
// ボディが読めない場合は空のフォームとして検証する。
func (h *AuthHandler) decodeCredentials(w http.ResponseWriter, r *http.Request, req *credentialsRequest, signup bool) bool {
	if err := decodeJSON(w, r, req); err != nil {
		*req = credentialsRequest{}
	}
	if fields := validateCredentials(req.Email, req.Password, req.Name, signup); fields != nil {
		h.notifier.Push(r.Context(), notify.SeverityError, msgFormErrors, 0)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(fields))
		return false
	}
	return true
}

// finishLocal はローカルログイン・サインアップの結果を通知とレスポンスに変換する。
// セッションが返っていて永続化だけが失敗した場合はログイン成功として扱い、警告を追加する。
func (h *AuthHandler) finishLocal(w http.ResponseWriter, r *http.Request, sess model.LocalSession, err error, successMsg string, successStatus int) {
	switch {
	case err == nil:
	case errors.Is(err, model.ErrStorageUnavailable) && sess.ID != "":
		h.notifier.Push(r.Context(), notify.SeverityWarning, msgSessionNotStored, 0)
	default:
		status, apiErr := middleware.ErrorStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("local authentication failed", slog.String("error", err.Error()))
		}
		h.notifier.Push(r.Context(), notify.SeverityError, apiErr.Message, 0)
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	h.notifier.Push(r.Context(), notify.SeveritySuccess, successMsg, 0)
	writeJSON(w, successStatus, toSessionResponse(h.sessions.Status()))
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.sessions.ProviderLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
// 成功時はホームへ、失敗・キャンセル時はログイン画面へリダイレクトする。
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	cb := auth.ProviderCallback{Code: query.Get("code"), Error: query.Get("error")}
	if _, err := h.sessions.LoginWithProvider(r.Context(), cb); err != nil {
		slog.Warn("google login failed", slog.String("error", err.Error()))
		h.notifier.Push(r.Context(), notify.SeverityError, msgGoogleFailed, 0)
		http.Redirect(w, r, h.config.LoginPath, http.StatusTemporaryRedirect)
		return
	}

	h.notifier.Push(r.Context(), notify.SeveritySuccess, msgGoogleLoggedIn, 0)
	http.Redirect(w, r, h.config.HomePath, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄してログイン画面へリダイレクトする。
// POST /auth/logout
// 失敗した場合もセッションはクリアされており、エラー通知だけを追加する。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		slog.Warn("logout completed with errors", slog.String("error", err.Error()))
		_, apiErr := middleware.ErrorStatus(err)
		h.notifier.Push(r.Context(), notify.SeverityError, apiErr.Message, 0)
	}
	http.Redirect(w, r, h.config.LoginPath, http.StatusSeeOther)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
