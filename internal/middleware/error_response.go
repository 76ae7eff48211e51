package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/portal/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// ErrorStatus はセッション層のエラーをHTTPステータスと統一エラーに対応付ける。
// 既知のエラーでない場合は500と内部エラーを返す。
func ErrorStatus(err error) (int, *model.APIError) {
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized, model.NewInvalidCredentialsError()
	case errors.Is(err, model.ErrDuplicateIdentity):
		return http.StatusConflict, model.NewDuplicateIdentityError()
	case errors.Is(err, model.ErrProviderAuthFailed):
		return http.StatusBadGateway, model.NewProviderAuthFailedError()
	case errors.Is(err, model.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, model.NewStorageUnavailableError()
	default:
		return http.StatusInternalServerError, model.NewInternalError()
	}
}

// WriteError はerrをErrorStatusで変換して書き込む。
func WriteError(w http.ResponseWriter, err error) {
	status, apiErr := ErrorStatus(err)
	WriteErrorResponse(w, status, apiErr)
}
