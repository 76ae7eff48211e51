package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/portal/internal/model"
)

// MemoryCredentialRepo はプロセス内メモリに資格情報を保持するリポジトリ。
// プロセス終了とともに内容は失われる。
type MemoryCredentialRepo struct {
	mu      sync.RWMutex
	records []model.CredentialRecord
}

// NewMemoryCredentialRepo はMemoryCredentialRepoを生成する。
func NewMemoryCredentialRepo() *MemoryCredentialRepo {
	return &MemoryCredentialRepo{}
}

// FindByEmail はメールアドレスでレコードを検索する。見つからない場合はnilを返す。
func (r *MemoryCredentialRepo) FindByEmail(_ context.Context, email string) (*model.CredentialRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.records {
		if r.records[i].Email == email {
			rec := r.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

// Create はレコードを末尾に追加する。
func (r *MemoryCredentialRepo) Create(_ context.Context, rec *model.CredentialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.records {
		if r.records[i].Email == rec.Email {
			return model.ErrDuplicateIdentity
		}
	}
	r.records = append(r.records, *rec)
	return nil
}

// Len は保持しているレコード数を返す。
func (r *MemoryCredentialRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// compile-time interface check
var _ CredentialRepository = (*MemoryCredentialRepo)(nil)
