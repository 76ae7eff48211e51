package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/repository"
)

// LocalSessionKey はローカルKVストア上で永続化セッションを保持するキー。
const LocalSessionKey = "localSession"

// BlobStore は最後に成功したローカルセッションを永続化する。
// 書き込みはログイン/サインアップ成功時、読み込みは起動時の1回、削除はログアウト時のみ。
type BlobStore struct {
	kv repository.KeyValueRepository
}

// NewBlobStore はBlobStoreを生成する。
func NewBlobStore(kv repository.KeyValueRepository) *BlobStore {
	return &BlobStore{kv: kv}
}

// Load は永続化セッションを返す。存在しない場合はnilを返す。
// 内容は検証しない。
func (b *BlobStore) Load(ctx context.Context) (*model.PersistedSession, error) {
	raw, err := b.kv.Get(ctx, LocalSessionKey)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", LocalSessionKey, model.ErrStorageUnavailable, err)
	}
	if raw == nil {
		return nil, nil
	}

	var blob model.PersistedSession
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", LocalSessionKey, model.ErrStorageUnavailable, err)
	}
	return &blob, nil
}

// Save はローカルセッションを書き込む。
func (b *BlobStore) Save(ctx context.Context, s model.LocalSession) error {
	raw, err := json.Marshal(model.PersistedSession{
		ID:          s.ID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", LocalSessionKey, err)
	}
	if err := b.kv.Set(ctx, LocalSessionKey, raw); err != nil {
		return fmt.Errorf("write %s: %w: %w", LocalSessionKey, model.ErrStorageUnavailable, err)
	}
	return nil
}

// Erase は永続化セッションを削除する。存在しなくてもエラーにしない。
func (b *BlobStore) Erase(ctx context.Context) error {
	if err := b.kv.Delete(ctx, LocalSessionKey); err != nil {
		return fmt.Errorf("delete %s: %w: %w", LocalSessionKey, model.ErrStorageUnavailable, err)
	}
	return nil
}
