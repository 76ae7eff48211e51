package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/repository"
)

// FederatedIdentityKey はローカルKVストア上で現在のフェデレーテッドIDを保持するキー。
const FederatedIdentityKey = "federatedIdentity"

// IdentityListener はIDの状態変化を受け取るコールバック。
// identityがnilの場合はサインインしていないことを示す。
type IdentityListener func(identity *model.FederatedIdentity)

// delivery は配送待ちの通知。targetが0の場合は全購読者へ配送する。
type delivery struct {
	target uint64
}

// IdentityProvider はOAuthProviderの上に現在のIDの保持と状態変化通知を提供する。
//
// 現在のIDはKVストアにキャッシュされ、Startで非同期に復元される。
// 通知は専用のディスパッチャgoroutineから登録順に1件ずつ配送され、
// 各配送は配送時点の現在IDを読む。
type IdentityProvider struct {
	oauth OAuthProvider
	store repository.KeyValueRepository

	mu          sync.Mutex
	current     *model.FederatedIdentity
	accessToken string
	restored    bool
	touched     bool
	listeners   map[uint64]IdentityListener
	order       []uint64
	nextID      uint64
	queue       []delivery

	wake      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewIdentityProvider はIdentityProviderを生成する。Startを呼ぶまで通知は配送されない。
func NewIdentityProvider(oauth OAuthProvider, store repository.KeyValueRepository) *IdentityProvider {
	return &IdentityProvider{
		oauth:     oauth,
		store:     store,
		listeners: make(map[uint64]IdentityListener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start はキャッシュ済みIDの復元とディスパッチャを開始する。
// 復元はバックグラウンドで行われ、完了時に全購読者へ現在の状態を通知する。
func (p *IdentityProvider) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.dispatchLoop()
		go p.restore(ctx)
	})
}

// Close はディスパッチャを停止し、実行中の配送の完了を待つ。
// 復元中のストア読み込みは待たない。
func (p *IdentityProvider) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// Subscribe はIDの状態変化の購読を登録し、登録解除関数を返す。
// 復元が完了していれば現在の状態が1回配送される。
// 復元前に登録した場合は復元完了時の通知が最初の配送になる。
func (p *IdentityProvider) Subscribe(listener IdentityListener) (unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = listener
	p.order = append(p.order, id)
	if p.restored {
		p.enqueueLocked(delivery{target: id})
	}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.listeners, id)
			for i, v := range p.order {
				if v == id {
					p.order = append(p.order[:i:i], p.order[i+1:]...)
					break
				}
			}
		})
	}
}

// CurrentIdentity は現在のIDのコピーを返す。サインインしていなければnilを返す。
func (p *IdentityProvider) CurrentIdentity() *model.FederatedIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	id := *p.current
	return &id
}

// LoginURL は対話的サインインを開始するURLを返す。
func (p *IdentityProvider) LoginURL(state string) string {
	return p.oauth.GetLoginURL(state)
}

// SignIn は対話的サインインの結果を処理する。
// 利用者による中断（access_denied または空のコード）はErrSignInCancelledを返す。
// 失敗時は現在のIDを変更しない。
func (p *IdentityProvider) SignIn(ctx context.Context, cb ProviderCallback) (*model.FederatedIdentity, error) {
	if cb.Error == "access_denied" || (cb.Error == "" && cb.Code == "") {
		return nil, ErrSignInCancelled
	}
	if cb.Error != "" {
		return nil, fmt.Errorf("provider returned error %q", cb.Error)
	}

	info, err := p.oauth.ExchangeCode(ctx, cb.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity := &model.FederatedIdentity{
		ProviderUserID: info.ProviderUserID,
		Email:          info.Email,
		DisplayName:    info.Name,
	}
	p.persist(ctx, identity)

	p.mu.Lock()
	p.current = identity
	p.accessToken = info.AccessToken
	p.touched = true
	p.enqueueLocked(delivery{})
	p.mu.Unlock()

	slog.Info("federated sign-in succeeded",
		slog.String("provider", info.Provider),
		slog.String("provider_user_id", info.ProviderUserID),
	)

	copied := *identity
	return &copied, nil
}

// SignOut はアクセストークンを失効させ、現在のIDを破棄する。
// 失効に失敗した場合は現在のIDを保持したままエラーを返す。
func (p *IdentityProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	token := p.accessToken
	p.mu.Unlock()

	if err := p.oauth.RevokeToken(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	if err := p.store.Delete(ctx, FederatedIdentityKey); err != nil {
		slog.Warn("failed to clear cached federated identity",
			slog.String("error", err.Error()),
		)
	}

	p.mu.Lock()
	p.current = nil
	p.accessToken = ""
	p.touched = true
	p.enqueueLocked(delivery{})
	p.mu.Unlock()

	slog.Info("federated sign-out succeeded")
	return nil
}

// restore はKVストアからキャッシュ済みIDを読み込み、全購読者へ通知する。
// 読み込みに失敗した場合はサインインしていないものとして扱う。
// 復元前にSignIn/SignOutが行われていた場合はその結果を優先する。
func (p *IdentityProvider) restore(ctx context.Context) {
	var identity *model.FederatedIdentity

	raw, err := p.store.Get(ctx, FederatedIdentityKey)
	switch {
	case err != nil:
		slog.Warn("failed to restore federated identity",
			slog.String("error", err.Error()),
		)
	case raw != nil:
		var cached model.FederatedIdentity
		if err := json.Unmarshal(raw, &cached); err != nil || cached.ProviderUserID == "" {
			slog.Warn("discarding malformed cached federated identity")
		} else {
			identity = &cached
		}
	}

	p.mu.Lock()
	if !p.touched {
		p.current = identity
	}
	p.restored = true
	p.enqueueLocked(delivery{})
	p.mu.Unlock()
}

// persist は現在のIDをKVストアへ書き込む。失敗してもサインイン自体は成功とする。
func (p *IdentityProvider) persist(ctx context.Context, identity *model.FederatedIdentity) {
	raw, err := json.Marshal(identity)
	if err == nil {
		err = p.store.Set(ctx, FederatedIdentityKey, raw)
	}
	if err != nil {
		slog.Warn("failed to cache federated identity",
			slog.String("error", err.Error()),
		)
	}
}

// enqueueLocked は配送を積み、ディスパッチャを起こす。p.muを保持して呼ぶこと。
func (p *IdentityProvider) enqueueLocked(d delivery) {
	p.queue = append(p.queue, d)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *IdentityProvider) dispatchLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			d := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()

			p.deliver(d)

			select {
			case <-p.done:
				return
			default:
			}
		}
	}
}

// deliver は配送時点の現在IDを読み、対象の購読者を登録順に呼び出す。
func (p *IdentityProvider) deliver(d delivery) {
	p.mu.Lock()
	var identity *model.FederatedIdentity
	if p.current != nil {
		copied := *p.current
		identity = &copied
	}
	var targets []IdentityListener
	if d.target != 0 {
		if l, ok := p.listeners[d.target]; ok {
			targets = append(targets, l)
		}
	} else {
		for _, id := range p.order {
			targets = append(targets, p.listeners[id])
		}
	}
	p.mu.Unlock()

	for _, l := range targets {
		p.invoke(l, identity)
	}
}

func (p *IdentityProvider) invoke(l IdentityListener, identity *model.FederatedIdentity) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("identity listener panicked", slog.Any("panic", rec))
		}
	}()
	var arg *model.FederatedIdentity
	if identity != nil {
		copied := *identity
		arg = &copied
	}
	l(arg)
}
