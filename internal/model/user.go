// Package model はドメインモデルを定義する。
package model

// CredentialRecord はモック認証用のローカル資格情報を表す。
// Passwordは平文で保持する。オフライン/デモ用の簡易実装であり、本番用途ではない。
type CredentialRecord struct {
	ID          string
	Email       string // 大文字小文字を区別し、入力どおりに保持する
	Password    string
	DisplayName string
}

// FederatedIdentity は外部IdPから取得したユーザー情報を表す。
type FederatedIdentity struct {
	ProviderUserID string `json:"providerUserId"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
}

// PersistedSession は永続化されるローカルセッションのレコード。
// どのチャネルが生成したかは保存先のキーで暗黙的に決まる。
type PersistedSession struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}
