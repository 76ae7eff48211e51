package model

import "strings"

// SessionKind はセッションの種別を表す。
type SessionKind string

const (
	// SessionKindAnonymous は未ログイン状態。
	SessionKindAnonymous SessionKind = "anonymous"
	// SessionKindLocal はモック資格情報ストアによるセッション。
	SessionKindLocal SessionKind = "local"
	// SessionKindFederated は外部IdPによるセッション。
	SessionKindFederated SessionKind = "federated"
)

// Session は解決済みのセッションを表す閉じた直和型。
// 実装はこのパッケージ内のAnonymous、LocalSession、FederatedSessionのみ。
// 利用側はMatchSessionで網羅的に分岐すること。
type Session interface {
	Kind() SessionKind
	sealedSession()
}

// Anonymous はログインしていない状態を表す。
type Anonymous struct{}

// LocalSession はモック資格情報ストアに裏付けられたセッション。
type LocalSession struct {
	ID          string
	Email       string
	DisplayName string
}

// FederatedSession は外部IdPに裏付けられたセッション。
type FederatedSession struct {
	ProviderUserID string
	Email          string
	DisplayName    string
}

func (Anonymous) Kind() SessionKind        { return SessionKindAnonymous }
func (LocalSession) Kind() SessionKind     { return SessionKindLocal }
func (FederatedSession) Kind() SessionKind { return SessionKindFederated }

func (Anonymous) sealedSession()        {}
func (LocalSession) sealedSession()     {}
func (FederatedSession) sealedSession() {}

// MatchSession はセッションの種別ごとに対応する関数を呼び出す。
// 種別を追加した場合は引数が増えるため、全呼び出し箇所がコンパイルエラーになる。
// nilはAnonymousとして扱う。
func MatchSession[T any](
	s Session,
	onAnonymous func() T,
	onLocal func(LocalSession) T,
	onFederated func(FederatedSession) T,
) T {
	switch v := s.(type) {
	case LocalSession:
		return onLocal(v)
	case *LocalSession:
		return onLocal(*v)
	case FederatedSession:
		return onFederated(v)
	case *FederatedSession:
		return onFederated(*v)
	default:
		return onAnonymous()
	}
}

// LocalSessionFromRecord は資格情報レコードからローカルセッションを生成する。
// パスワードは含めない。
func LocalSessionFromRecord(rec *CredentialRecord) LocalSession {
	return LocalSession{
		ID:          rec.ID,
		Email:       rec.Email,
		DisplayName: rec.DisplayName,
	}
}

// FederatedSessionFromIdentity は外部IdPのユーザー情報からセッションを生成する。
func FederatedSessionFromIdentity(id *FederatedIdentity) FederatedSession {
	return FederatedSession{
		ProviderUserID: id.ProviderUserID,
		Email:          id.Email,
		DisplayName:    id.DisplayName,
	}
}

// GreetingName はヘッダーに表示するユーザー名を返す。
// 表示名、メールアドレスのローカル部、"User"の順にフォールバックする。
func GreetingName(s Session) string {
	pick := func(displayName, email string) string {
		if displayName != "" {
			return displayName
		}
		if local, _, _ := strings.Cut(email, "@"); local != "" {
			return local
		}
		return "User"
	}
	return MatchSession(s,
		func() string { return "User" },
		func(l LocalSession) string { return pick(l.DisplayName, l.Email) },
		func(f FederatedSession) string { return pick(f.DisplayName, f.Email) },
	)
}
