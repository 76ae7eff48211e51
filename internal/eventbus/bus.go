// Package eventbus はプロセス内の同期Publish/Subscribeを提供する。
//
// イベントはペイロードを持たない純粋な通知であり、購読者は通知を受けたら
// 永続化済みデータなどの正となる状態を読み直す。
// Busはプロセス全体で1つ生成し、必要なコンポーネントに明示的に注入する。
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// 既知のイベント名。
const (
	// EventIdentityDataUpdated はプロフィールデータの書き込み成功後に発行される。
	EventIdentityDataUpdated = "identityDataUpdated"
	// EventSessionChanged はセッション状態が遷移するたびに発行される。
	EventSessionChanged = "sessionChanged"
	// EventNotificationsUpdated は通知一覧が変化したときに発行される。
	EventNotificationsUpdated = "notificationsUpdated"
)

// ErrReentrantEmit は同一イベントのEmit中に、そのコンテキストから
// 同じイベントを再度Emitしようとしたことを示す。
var ErrReentrantEmit = errors.New("reentrant emit")

// Handler はイベントの購読者。返されたエラーやpanicは他の購読者に影響しない。
type Handler func(ctx context.Context) error

// Observer はEmitの結果を観測するフック。メトリクス収集に使う。
type Observer interface {
	ObserveEmit(event string, subscribers int)
	ObserveHandlerFailure(event string)
}

// subscription は1回のSubscribe呼び出しに対応する登録。
// 同じ関数を2回登録しても別のsubscriptionとして扱う。
type subscription struct {
	id      uint64
	handler Handler
	removed atomic.Bool
}

// Bus はイベント名ごとに購読者を登録順に保持する。
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*subscription
	nextID    uint64
	observer  Observer
}

// Option はBusの生成オプション。
type Option func(*Bus)

// WithObserver はEmitの観測フックを設定する。
func WithObserver(o Observer) Option {
	return func(b *Bus) {
		b.observer = o
	}
}

// New はBusを生成する。
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners: make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe はeventにhandlerを登録し、登録解除関数を返す。
// 登録解除関数はこの登録だけを取り除き、2回目以降の呼び出しは何もしない。
func (b *Bus) Subscribe(event string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler}
	b.listeners[event] = append(b.listeners[event], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(event, sub)
		})
	}
}

// Emit はeventの購読者を登録順に呼び出し側のgoroutineで同期的に呼び出す。
// 購読者が0件の場合は何もせずnilを返す。
// ある購読者が失敗しても残りの購読者は呼び出され、失敗はまとめて返される。
// Emit中に登録解除された購読者は、まだ呼ばれていなければ呼ばれない。
func (b *Bus) Emit(ctx context.Context, event string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if emitting(ctx, event) {
		slog.Warn("reentrant emit rejected", slog.String("event", event))
		return fmt.Errorf("emit %q: %w", event, ErrReentrantEmit)
	}

	b.mu.RLock()
	snapshot := make([]*subscription, len(b.listeners[event]))
	copy(snapshot, b.listeners[event])
	b.mu.RUnlock()

	if b.observer != nil {
		b.observer.ObserveEmit(event, len(snapshot))
	}
	if len(snapshot) == 0 {
		return nil
	}

	ctx = withEmitting(ctx, event)

	var errs []error
	for _, sub := range snapshot {
		if sub.removed.Load() {
			continue
		}
		if err := b.invoke(ctx, event, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SubscriberCount はeventの現在の購読者数を返す。
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}

// invoke は1件の購読者を呼び出し、エラーとpanicをエラーに変換する。
func (b *Bus) invoke(ctx context.Context, event string, sub *subscription) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("subscriber %d for %q panicked: %v", sub.id, event, rec)
		}
		if err != nil {
			slog.Error("event subscriber failed",
				slog.String("event", event),
				slog.Uint64("subscription_id", sub.id),
				slog.String("error", err.Error()),
			)
			if b.observer != nil {
				b.observer.ObserveHandlerFailure(event)
			}
		}
	}()
	return sub.handler(ctx)
}

// remove はeventの購読者一覧からsubを取り除く。残りの順序は維持される。
func (b *Bus) remove(event string, sub *subscription) {
	sub.removed.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.listeners[event]
	for i, s := range subs {
		if s.id != sub.id {
			continue
		}
		next := make([]*subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.listeners, event)
		} else {
			b.listeners[event] = next
		}
		return
	}
}

// emittingKey はEmit中のイベント名集合をコンテキストに格納するためのキー。
type emittingKey struct{}

func emitting(ctx context.Context, event string) bool {
	set, _ := ctx.Value(emittingKey{}).(map[string]struct{})
	_, ok := set[event]
	return ok
}

func withEmitting(ctx context.Context, event string) context.Context {
	prev, _ := ctx.Value(emittingKey{}).(map[string]struct{})
	set := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		set[k] = struct{}{}
	}
	set[event] = struct{}{}
	return context.WithValue(ctx, emittingKey{}, set)
}
