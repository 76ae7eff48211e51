package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteKeyValueRepo はローカルのSQLiteファイルを使用したキーバリューストア。
// 永続セッションや外部IdPのユーザー情報キャッシュなど、
// プロセス再起動をまたいで保持したい小さな値を格納する。
type SQLiteKeyValueRepo struct {
	db *sql.DB
}

// NewSQLiteKeyValueRepo はSQLiteKeyValueRepoを生成する。
// kv_entriesテーブルはマイグレーションで作成済みであること。
func NewSQLiteKeyValueRepo(db *sql.DB) *SQLiteKeyValueRepo {
	return &SQLiteKeyValueRepo{db: db}
}

// Get は指定キーの値を取得する。存在しない場合はnilを返す。
func (r *SQLiteKeyValueRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ?`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv entry %q: %w", key, err)
	}
	return value, nil
}

// Set は指定キーに値を書き込む。既存の値は置き換えられる。
func (r *SQLiteKeyValueRepo) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to set kv entry %q: %w", key, err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *SQLiteKeyValueRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = ?`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete kv entry %q: %w", key, err)
	}
	return nil
}

// compile-time interface check
var _ KeyValueRepository = (*SQLiteKeyValueRepo)(nil)
