// Package credential はローカル（モック）認証の資格情報ストアを提供する。
//
// パスワードは平文のまま比較する。これは対話的な動作確認用の簡易実装であり、
// 本番運用向けの資格情報管理ではない（NON-PRODUCTION）。
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/repository"
	"github.com/hitoshi/portal/internal/security"
)

// SeedRecords は対話的な動作確認用に投入するシードユーザー。
// セキュリティ境界ではない。
var SeedRecords = []model.CredentialRecord{
	{Email: "test@test.com", Password: "password123", DisplayName: "Test User"},
	{Email: "test2@test.com", Password: "password123", DisplayName: "Test User 2"},
}

// Store は資格情報ストアのサービス層。
// 重複チェックと追加はmuで直列化される。
type Store struct {
	mu        sync.Mutex
	repo      repository.CredentialRepository
	sanitizer security.TextSanitizer
	newID     func() string
}

// NewStore はStoreの新しいインスタンスを生成する。
func NewStore(repo repository.CredentialRepository, sanitizer security.TextSanitizer) *Store {
	return &Store{
		repo:      repo,
		sanitizer: sanitizer,
		newID:     uuid.NewString,
	}
}

// FindByEmailAndPassword はメールアドレスとパスワードの両方が完全一致するレコードを返す。
// 一致するレコードがない場合はnil, nilを返す（エラーではない）。
func (s *Store) FindByEmailAndPassword(ctx context.Context, email, password string) (*model.CredentialRecord, error) {
	rec, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("資格情報の検索に失敗しました: %w", err)
	}
	if rec == nil || rec.Password != password {
		return nil, nil
	}
	return rec, nil
}

// Create は新しいレコードを追加する。
// 同じメールアドレスが既に存在する場合はmodel.ErrDuplicateIdentityを返し、ストアは変更しない。
func (s *Store) Create(ctx context.Context, email, password, displayName string) (*model.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("資格情報の検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.ErrDuplicateIdentity
	}

	rec := &model.CredentialRecord{
		ID:          s.newID(),
		Email:       email,
		Password:    password,
		DisplayName: s.sanitizer.SanitizeText(displayName),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, model.ErrDuplicateIdentity) {
			return nil, err
		}
		return nil, fmt.Errorf("資格情報の作成に失敗しました: %w", err)
	}
	return rec, nil
}

// Seed はrecordsのうち未登録のものを追加する。既に存在するメールアドレスはスキップする。
func (s *Store) Seed(ctx context.Context, records []model.CredentialRecord) error {
	for _, r := range records {
		_, err := s.Create(ctx, r.Email, r.Password, r.DisplayName)
		if errors.Is(err, model.ErrDuplicateIdentity) {
			continue
		}
		if err != nil {
			return fmt.Errorf("シードユーザーの投入に失敗しました: %w", err)
		}
		slog.Info("seeded mock user", slog.String("email", r.Email))
	}
	return nil
}
