// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// セッション層のエラー分類。いずれもプロセスにとって致命的ではなく、
// 呼び出し元が通知として利用者に提示する。
var (
	// ErrInvalidCredentials はローカルログインで一致するレコードがないことを示す。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateIdentity はサインアップ時にメールアドレスが既に登録済みであることを示す。
	ErrDuplicateIdentity = errors.New("user already exists")
	// ErrProviderAuthFailed は外部IdPのフローがキャンセルまたは失敗したことを示す。
	ErrProviderAuthFailed = errors.New("provider authentication failed")
	// ErrStorageUnavailable は永続化の読み書きに失敗したことを示す。
	// メモリ上のセッションはプロセス生存中は有効なままとなる。
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidTransition はセッション状態遷移の不変条件違反を示す。
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrAlreadyStarted は起動時解決が2回以上呼ばれたことを示す。
	ErrAlreadyStarted = errors.New("session resolution already started")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeDuplicateIdentity    = "DUPLICATE_IDENTITY"
	ErrCodeProviderAuthFailed   = "PROVIDER_AUTH_FAILED"
	ErrCodeStorageUnavailable   = "STORAGE_UNAVAILABLE"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFValidationFailed = "CSRF_VALIDATION_FAILED"
	ErrCodeInvalidState         = "INVALID_STATE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認して再度お試しください。",
	}
}

// NewDuplicateIdentityError はメールアドレス重複エラーを生成する。
func NewDuplicateIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentity,
		Message:  "User already exists",
		Category: "auth",
		Action:   "別のメールアドレスで登録するか、ログインしてください。",
	}
}

// NewProviderAuthFailedError は外部IdP認証失敗エラーを生成する。
func NewProviderAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderAuthFailed,
		Message:  "Google authentication failed",
		Category: "auth",
		Action:   "再度お試しいただくか、メールアドレスでログインしてください。",
	}
}

// NewStorageUnavailableError は永続化失敗エラーを生成する。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "ローカルストレージに保存できませんでした。",
		Category: "system",
		Action:   "再起動後はログインし直す必要があります。",
	}
}

// NewValidationError は入力値エラーを生成する。
// fieldsにはフィールド名ごとのエラーメッセージを渡す。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("Please fix the form errors: %s", formatFieldErrors(fields)),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewNotificationNotFoundError は通知未検出エラーを生成する。
func NewNotificationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", id),
		Category: "validation",
		Action:   "通知IDを確認してください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFValidationError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFValidationFailed,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInvalidStateError はOAuthのstateパラメータ不一致エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "OAuth state mismatch",
		Category: "auth",
		Action:   "もう一度Googleでログインしてください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// formatFieldErrors はフィールド名順にエラーメッセージを連結する。
func formatFieldErrors(fields map[string]string) string {
	order := []string{"name", "email", "password", "phone", "address"}
	var out string
	for _, key := range order {
		msg, ok := fields[key]
		if !ok {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += key + ": " + msg
	}
	return out
}
