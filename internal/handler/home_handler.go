package handler

import (
	"net/http"
)

// HomeHandler はシェルのホーム画面と稼働確認のHTTPハンドラー。
type HomeHandler struct {
	sessions SessionService
	notifier Notifier
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(sessions SessionService, notifier Notifier) *HomeHandler {
	return &HomeHandler{sessions: sessions, notifier: notifier}
}

type homeResponse struct {
	sessionResponse
	Notifications int `json:"notifications"`
}

// Home はログイン済みのシェルの概要を返す。アクセスガードの内側に配置する。
// GET /home
func (h *HomeHandler) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, homeResponse{
		sessionResponse: toSessionResponse(h.sessions.Status()),
		Notifications:   len(h.notifier.Active()),
	})
}

// Health はプロセスの稼働を返す。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
