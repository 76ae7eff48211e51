package repository

import (
	"context"
	"sync"
)

// MemoryKeyValueRepo はプロセス内メモリのキーバリューストア。
// 永続化を必要としないテストや一時実行で使用する。
type MemoryKeyValueRepo struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryKeyValueRepo はMemoryKeyValueRepoを生成する。
func NewMemoryKeyValueRepo() *MemoryKeyValueRepo {
	return &MemoryKeyValueRepo{entries: make(map[string][]byte)}
}

// Get は指定キーの値のコピーを返す。存在しない場合はnilを返す。
func (r *MemoryKeyValueRepo) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Set は指定キーに値を書き込む。
func (r *MemoryKeyValueRepo) Set(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[key] = append([]byte(nil), value...)
	return nil
}

// Delete は指定キーを削除する。
func (r *MemoryKeyValueRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, key)
	return nil
}

// compile-time interface check
var _ KeyValueRepository = (*MemoryKeyValueRepo)(nil)
