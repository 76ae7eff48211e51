// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/portal/internal/model"
)

// CredentialRepository はモック資格情報レコードの永続化インターフェース。
type CredentialRepository interface {
	// FindByEmail はメールアドレス（大文字小文字を区別）でレコードを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.CredentialRecord, error)

	// Create はレコードを追加する。
	// メールアドレスが既に存在する場合はmodel.ErrDuplicateIdentityを返し、何も書き込まない。
	Create(ctx context.Context, rec *model.CredentialRecord) error
}

// KeyValueRepository はローカル永続ストレージのキーバリューインターフェース。
// ブラウザのlocalStorageに相当する。
type KeyValueRepository interface {
	// Get は指定キーの値を取得する。存在しない場合はnilを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set は指定キーに値を書き込む。既存の値は置き換えられる。
	Set(ctx context.Context, key string, value []byte) error
	// Delete は指定キーを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
}
