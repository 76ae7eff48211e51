// Package auth はフェデレーテッドIDプロバイダー（Google OAuth 2.0）との境界を提供する。
//
// OAuthProvider はプロトコル部分（認可URL生成、コード交換、トークン失効）を担い、
// IdentityProvider はその上で現在のIDの保持、永続化、状態変化の非同期通知を担う。
package auth

import (
	"context"
	"errors"
)

// ErrSignInCancelled は利用者が対話的サインインを中断したことを示す。
var ErrSignInCancelled = errors.New("sign-in cancelled")

// ErrProviderNotConfigured はOAuthクライアントが設定されていないことを示す。
var ErrProviderNotConfigured = errors.New("oauth provider is not configured")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google" 等
	AccessToken    string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
	// RevokeToken はアクセストークンを失効させる。
	RevokeToken(ctx context.Context, accessToken string) error
}

// ProviderCallback は対話的サインインフローの結果。
// 認可コードかプロバイダーが返したエラーのどちらかを持つ。
type ProviderCallback struct {
	Code  string
	Error string
}
