// Package session はセッションの単一の所有者であるResolverを提供する。
//
// Resolverはフェデレーテッドプロバイダーの状態通知、ローカル資格情報ストア、
// 永続化セッションを1つのmodel.Sessionに統合する。
// 状態遷移は Initializing -> {Anonymous, Local, Federated}、
// Anonymous <-> Local、Anonymous <-> Federated のみで、
// Local と Federated の間は必ずAnonymousを経由する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/portal/internal/auth"
	"github.com/hitoshi/portal/internal/eventbus"
	"github.com/hitoshi/portal/internal/model"
)

// StateInitializing は起動時解決が完了していない状態の名前。
const StateInitializing = "initializing"

// ログイン手段のラベル。
const (
	MethodLocal     = "local"
	MethodSignup    = "signup"
	MethodFederated = "federated"
)

// Provider はResolverが利用するフェデレーテッドプロバイダーの機能。
type Provider interface {
	Subscribe(listener auth.IdentityListener) (unsubscribe func())
	CurrentIdentity() *model.FederatedIdentity
	SignIn(ctx context.Context, cb auth.ProviderCallback) (*model.FederatedIdentity, error)
	SignOut(ctx context.Context) error
	LoginURL(state string) string
}

// CredentialStore はResolverが利用するローカル資格情報ストアの機能。
type CredentialStore interface {
	FindByEmailAndPassword(ctx context.Context, email, password string) (*model.CredentialRecord, error)
	Create(ctx context.Context, email, password, displayName string) (*model.CredentialRecord, error)
}

// Emitter はイベント発行の機能。
type Emitter interface {
	Emit(ctx context.Context, event string) error
}

// Recorder は状態遷移とログイン結果を記録するフック。
type Recorder interface {
	ObserveTransition(from, to string)
	ObserveLogin(method string, success bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveTransition(string, string) {}
func (noopRecorder) ObserveLogin(string, bool)         {}

// Status はResolverの状態のスナップショット。
// Resolvedがfalseの間はInitializingであり、Sessionはnil。
type Status struct {
	Resolved bool
	Session  model.Session
}

// State は状態名（initializing/anonymous/local/federated）を返す。
func (s Status) State() string {
	if !s.Resolved {
		return StateInitializing
	}
	return string(kindOf(s.Session))
}

// Resolver はセッションの唯一の所有者かつ変更者。
// 操作はopMuで直列化され、状態はmuで保護される。
type Resolver struct {
	provider Provider
	store    CredentialStore
	blob     *BlobStore
	bus      Emitter
	recorder Recorder

	opMu sync.Mutex

	mu          sync.RWMutex
	started     bool
	resolved    bool
	current     model.Session
	unsubscribe func()

	ready     chan struct{}
	readyOnce sync.Once
	baseCtx   context.Context
}

// NewResolver はResolverを生成する。recorderはnilでもよい。
func NewResolver(provider Provider, store CredentialStore, blob *BlobStore, bus Emitter, recorder Recorder) *Resolver {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Resolver{
		provider: provider,
		store:    store,
		blob:     blob,
		bus:      bus,
		recorder: recorder,
		ready:    make(chan struct{}),
	}
}

// ResolveOnStartup はプロバイダーの状態通知を購読してすぐに戻る。
// 最初の通知でIDがあればFederated（永続化セッションには触れない）、
// なければ永続化セッションがあればLocal、どちらもなければAnonymousに解決する。
// 解決はReady/WaitReadyで待てる。プロバイダーが応答しない場合はInitializingのまま留まる。
func (r *Resolver) ResolveOnStartup(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return model.ErrAlreadyStarted
	}
	r.started = true
	r.baseCtx = context.WithoutCancel(ctx)
	r.mu.Unlock()

	unsubscribe := r.provider.Subscribe(r.onProviderEvent)

	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()
	return nil
}

// Ready は起動時解決の完了時にcloseされるチャネルを返す。
func (r *Resolver) Ready() <-chan struct{} {
	return r.ready
}

// WaitReady は起動時解決の完了かctxの終了まで待つ。
func (r *Resolver) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status は現在の状態のコピーを返す。
func (r *Resolver) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{Resolved: r.resolved, Session: r.current}
}

// Close はプロバイダーの購読を解除する。
func (r *Resolver) Close() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// ProviderLoginURL は対話的サインインを開始するURLを返す。
func (r *Resolver) ProviderLoginURL(state string) string {
	return r.provider.LoginURL(state)
}

// LoginWithProvider は対話的サインインの結果を処理してFederatedへ遷移する。
// Localが有効な場合はまずAnonymousへ戻し、永続化セッションを削除する。
// キャンセルやプロバイダーの失敗はErrProviderAuthFailedでラップして返し、状態は変えない。
func (r *Resolver) LoginWithProvider(ctx context.Context, cb auth.ProviderCallback) (model.FederatedSession, error) {
	if err := r.WaitReady(ctx); err != nil {
		return model.FederatedSession{}, err
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	identity, err := r.provider.SignIn(ctx, cb)
	if err != nil {
		r.recorder.ObserveLogin(MethodFederated, false)
		return model.FederatedSession{}, fmt.Errorf("%w: %w", model.ErrProviderAuthFailed, err)
	}

	if err := r.clearForLogin(ctx, model.SessionKindFederated); err != nil {
		r.recorder.ObserveLogin(MethodFederated, false)
		return model.FederatedSession{}, err
	}

	fed := model.FederatedSessionFromIdentity(identity)
	if err := r.transition(ctx, fed); err != nil {
		return model.FederatedSession{}, err
	}
	r.recorder.ObserveLogin(MethodFederated, true)

	slog.Info("federated login succeeded", slog.String("provider_user_id", fed.ProviderUserID))
	return fed, nil
}

// LoginLocal はローカル資格情報で認証してLocalへ遷移する。
// 一致しない場合はErrInvalidCredentialsを返し、状態は変えない。
// Federatedが有効な場合はまずプロバイダーからサインアウトする。
// 永続化に失敗してもLocalへは遷移し、セッションとErrStorageUnavailableを両方返す。
func (r *Resolver) LoginLocal(ctx context.Context, email, password string) (model.LocalSession, error) {
	if err := r.WaitReady(ctx); err != nil {
		return model.LocalSession{}, err
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	rec, err := r.store.FindByEmailAndPassword(ctx, email, password)
	if err != nil {
		r.recorder.ObserveLogin(MethodLocal, false)
		return model.LocalSession{}, fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
	}
	if rec == nil {
		r.recorder.ObserveLogin(MethodLocal, false)
		return model.LocalSession{}, model.ErrInvalidCredentials
	}
	return r.loginWithRecord(ctx, MethodLocal, rec)
}

// SignupLocal は資格情報を作成し、LoginLocalと同様にLocalへ遷移する。
// 重複時はErrDuplicateIdentityをそのまま返す。
func (r *Resolver) SignupLocal(ctx context.Context, email, password, displayName string) (model.LocalSession, error) {
	if err := r.WaitReady(ctx); err != nil {
		return model.LocalSession{}, err
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	rec, err := r.store.Create(ctx, email, password, displayName)
	if err != nil {
		r.recorder.ObserveLogin(MethodSignup, false)
		if errors.Is(err, model.ErrDuplicateIdentity) {
			return model.LocalSession{}, err
		}
		return model.LocalSession{}, fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
	}
	return r.loginWithRecord(ctx, MethodSignup, rec)
}

// Logout はAnonymousへ遷移する。
// Federatedの場合はまずプロバイダーのサインアウトを待つ。失敗しても状態は必ずクリアし、
// ErrProviderAuthFailedとして返す。永続化セッションは常に削除する。
func (r *Resolver) Logout(ctx context.Context) error {
	if err := r.WaitReady(ctx); err != nil {
		return err
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	var errs []error
	if kindOf(r.Status().Session) == model.SessionKindFederated {
		if err := r.provider.SignOut(ctx); err != nil {
			slog.Warn("provider sign-out failed during logout", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%w: %w", model.ErrProviderAuthFailed, err))
		}
	}

	if err := r.blob.Erase(ctx); err != nil {
		slog.Warn("failed to erase persisted session", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if kindOf(r.Status().Session) != model.SessionKindAnonymous {
		if err := r.transition(ctx, model.Anonymous{}); err != nil {
			errs = append(errs, err)
		}
	}

	slog.Info("logout completed")
	return errors.Join(errs...)
}

// loginWithRecord は照合済みレコードでLocalへ遷移する。opMuを保持して呼ぶこと。
func (r *Resolver) loginWithRecord(ctx context.Context, method string, rec *model.CredentialRecord) (model.LocalSession, error) {
	if err := r.clearForLogin(ctx, model.SessionKindLocal); err != nil {
		r.recorder.ObserveLogin(method, false)
		return model.LocalSession{}, err
	}

	local := model.LocalSessionFromRecord(rec)
	saveErr := r.blob.Save(ctx, local)
	if saveErr != nil {
		slog.Warn("failed to persist local session", slog.String("error", saveErr.Error()))
	}

	if err := r.transition(ctx, local); err != nil {
		return model.LocalSession{}, err
	}
	r.recorder.ObserveLogin(method, true)

	slog.Info("local login succeeded",
		slog.String("method", method),
		slog.String("user_id", local.ID),
	)
	return local, saveErr
}

// clearForLogin はtargetへのログイン前に現在のセッションをAnonymousへ戻す。
// Local -> Federated では永続化セッションを削除する。
// Federated -> Local ではプロバイダーからサインアウトし、失敗時は状態を変えずにエラーを返す。
// 同じ種別への再ログインは直前のセッションをAnonymousへ戻すだけ。
func (r *Resolver) clearForLogin(ctx context.Context, target model.SessionKind) error {
	return model.MatchSession(r.Status().Session,
		func() error { return nil },
		func(model.LocalSession) error {
			if target != model.SessionKindLocal {
				if err := r.blob.Erase(ctx); err != nil {
					slog.Warn("failed to erase persisted session", slog.String("error", err.Error()))
				}
			}
			return r.transition(ctx, model.Anonymous{})
		},
		func(model.FederatedSession) error {
			if target != model.SessionKindFederated {
				if err := r.provider.SignOut(ctx); err != nil {
					return fmt.Errorf("%w: %w", model.ErrProviderAuthFailed, err)
				}
			}
			return r.transition(ctx, model.Anonymous{})
		},
	)
}

// onProviderEvent はプロバイダーの状態通知を処理する。
// 最初の通知で起動時解決を行い、以降はFederated中のサインアウトだけを反映する。
func (r *Resolver) onProviderEvent(identity *model.FederatedIdentity) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.RLock()
	resolved := r.resolved
	ctx := r.baseCtx
	r.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if !resolved {
		r.resolveInitial(ctx, identity)
		return
	}

	// サインイン側の遷移はLoginWithProviderだけが行う
	if identity != nil {
		return
	}
	if kindOf(r.Status().Session) != model.SessionKindFederated {
		return
	}
	if r.provider.CurrentIdentity() != nil {
		return
	}
	if err := r.transition(ctx, model.Anonymous{}); err != nil {
		slog.Error("failed to apply provider sign-out", slog.String("error", err.Error()))
	}
}

// resolveInitial は起動時の優先順位（Federated > 永続化Local > Anonymous）で状態を決める。
func (r *Resolver) resolveInitial(ctx context.Context, identity *model.FederatedIdentity) {
	var next model.Session = model.Anonymous{}

	if identity != nil {
		next = model.FederatedSessionFromIdentity(identity)
	} else {
		blob, err := r.blob.Load(ctx)
		switch {
		case err != nil:
			slog.Warn("persisted session unavailable at startup",
				slog.String("error", err.Error()),
			)
		case blob != nil:
			next = model.LocalSession{ID: blob.ID, Email: blob.Email, DisplayName: blob.DisplayName}
		}
	}

	if err := r.transition(ctx, next); err != nil {
		slog.Error("startup resolution failed", slog.String("error", err.Error()))
		return
	}
	r.readyOnce.Do(func() { close(r.ready) })

	slog.Info("session resolved on startup", slog.String("state", string(next.Kind())))
}

// transition は状態を遷移させ、メトリクスを記録し、sessionChangedを発行する。
func (r *Resolver) transition(ctx context.Context, next model.Session) error {
	r.mu.Lock()
	from := StateInitializing
	if r.resolved {
		from = string(kindOf(r.current))
	}
	to := string(kindOf(next))
	if err := validateTransition(from, to); err != nil {
		r.mu.Unlock()
		return err
	}
	r.current = next
	r.resolved = true
	r.mu.Unlock()

	r.recorder.ObserveTransition(from, to)
	if err := r.bus.Emit(ctx, eventbus.EventSessionChanged); err != nil {
		slog.Warn("sessionChanged subscribers failed", slog.String("error", err.Error()))
	}
	return nil
}

// validateTransition は許可された遷移かを判定する。
func validateTransition(from, to string) error {
	anonymous := string(model.SessionKindAnonymous)
	switch {
	case from == StateInitializing && to != StateInitializing:
		return nil
	case from == anonymous && to != anonymous && to != StateInitializing:
		return nil
	case from != anonymous && from != StateInitializing && to == anonymous:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
}

func kindOf(s model.Session) model.SessionKind {
	if s == nil {
		return model.SessionKindAnonymous
	}
	return s.Kind()
}
