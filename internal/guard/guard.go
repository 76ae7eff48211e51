// Package guard はセッション状態から画面遷移の可否を決める純粋な判定を提供する。
// 判定はキャッシュせず、呼び出しのたびに現在の状態から計算する。
package guard

import (
	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/session"
)

// Decision はアクセスガードの判定結果。
type Decision int

const (
	// Suspend は起動時解決が完了していないため何も描画しないことを示す。
	Suspend Decision = iota
	// RedirectToLogin はログイン画面へ誘導することを示す。
	RedirectToLogin
	// Allow は遷移を許可することを示す。
	Allow
)

// String は判定名を返す。
func (d Decision) String() string {
	switch d {
	case Suspend:
		return "suspend"
	case RedirectToLogin:
		return "redirect"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// Decide は現在のセッション状態から判定を返す。
func Decide(st session.Status) Decision {
	if !st.Resolved {
		return Suspend
	}
	return model.MatchSession(st.Session,
		func() Decision { return RedirectToLogin },
		func(model.LocalSession) Decision { return Allow },
		func(model.FederatedSession) Decision { return Allow },
	)
}
