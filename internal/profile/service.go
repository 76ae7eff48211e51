// Package profile はユーザーフォームのプロフィールデータの保存境界を提供する。
// 保存に成功するとidentityDataUpdatedを発行し、購読者は保存済みデータを読み直す。
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/portal/internal/eventbus"
	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/repository"
	"github.com/hitoshi/portal/internal/security"
	"github.com/jonboulle/clockwork"
)

// UserDataKey はローカルKVストア上でプロフィールを保持するキー。
const UserDataKey = "userData"

// Emitter はイベント発行の機能。
type Emitter interface {
	Emit(ctx context.Context, event string) error
}

// Input は保存するプロフィールの入力値。
type Input struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Service はプロフィールのサービス層。
type Service struct {
	kv        repository.KeyValueRepository
	bus       Emitter
	sanitizer security.TextSanitizer
	clock     clockwork.Clock
}

// NewService はServiceの新しいインスタンスを生成する。clockがnilの場合は実時計を使う。
func NewService(kv repository.KeyValueRepository, bus Emitter, sanitizer security.TextSanitizer, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		kv:        kv,
		bus:       bus,
		sanitizer: sanitizer,
		clock:     clock,
	}
}

// Get は保存済みのプロフィールを返す。未保存の場合はnilを返す。
func (s *Service) Get(ctx context.Context) (*model.Profile, error) {
	raw, err := s.kv.Get(ctx, UserDataKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
	}
	if raw == nil {
		return nil, nil
	}

	var p model.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: プロフィールの解析に失敗しました: %w", model.ErrStorageUnavailable, err)
	}
	return &p, nil
}

// Save はプロフィールを保存し、identityDataUpdatedを発行する。
// 入力値のHTMLは除去される。IDは初回保存時に採番され、以降は維持される。
func (s *Service) Save(ctx context.Context, in Input) (*model.Profile, error) {
	existing, err := s.Get(ctx)
	if err != nil {
		slog.Warn("discarding unreadable profile", slog.String("error", err.Error()))
		existing = nil
	}

	p := &model.Profile{
		Name:      s.sanitizer.SanitizeText(in.Name),
		Email:     s.sanitizer.SanitizeText(in.Email),
		Phone:     s.sanitizer.SanitizeText(in.Phone),
		Address:   s.sanitizer.SanitizeText(in.Address),
		UpdatedAt: s.clock.Now().UTC(),
	}
	if existing != nil && existing.ID != "" {
		p.ID = existing.ID
	} else {
		p.ID = uuid.NewString()
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("プロフィールのエンコードに失敗しました: %w", err)
	}
	if err := s.kv.Set(ctx, UserDataKey, raw); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
	}

	if err := s.bus.Emit(ctx, eventbus.EventIdentityDataUpdated); err != nil {
		slog.Warn("identityDataUpdated subscribers failed", slog.String("error", err.Error()))
	}

	slog.Info("profile saved", slog.String("profile_id", p.ID))
	return p, nil
}
