package middleware

import (
	"net/http"

	"github.com/hitoshi/portal/internal/guard"
	"github.com/hitoshi/portal/internal/session"
)

// StatusSource は現在のセッション状態を返す。
type StatusSource interface {
	Status() session.Status
}

// NewAccessGuardMiddleware は保護ルートへのアクセスを現在のセッション状態で判定するミドルウェアを返す。
// 判定はリクエストごとに行い、結果を保持しない。
//   - 起動時解決の完了前: 503（本文なし、Retry-After: 1）
//   - 未ログイン: loginPathへ303リダイレクト
//   - ログイン済み: 次のハンドラーへ委譲
func NewAccessGuardMiddleware(source StatusSource, loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch guard.Decide(source.Status()) {
			case guard.Allow:
				next.ServeHTTP(w, r)
			case guard.RedirectToLogin:
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
			default:
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		})
	}
}
