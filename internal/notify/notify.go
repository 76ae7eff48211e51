// Package notify は短時間だけ表示される利用者向けの通知を保持する。
// 通知は観測専用であり、他のコンポーネントが正しさのために参照してはならない。
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/portal/internal/eventbus"
	"github.com/jonboulle/clockwork"
)

// Severity は通知の重要度。
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// DefaultDuration は表示時間の既定値。
const DefaultDuration = 2 * time.Second

// Notification は1件の通知。
type Notification struct {
	ID        string
	Severity  Severity
	Message   string
	Duration  time.Duration
	CreatedAt time.Time
}

// expired はnowの時点で表示時間を過ぎているかを返す。
func (n Notification) expired(now time.Time) bool {
	return !now.Before(n.CreatedAt.Add(n.Duration))
}

// Emitter はイベント発行の機能。
type Emitter interface {
	Emit(ctx context.Context, event string) error
}

// Recorder は通知の件数を記録するフック。
type Recorder interface {
	RecordNotification(severity string)
}

// Center は表示中の通知を保持する。
type Center struct {
	mu              sync.Mutex
	clock           clockwork.Clock
	bus             Emitter
	recorder        Recorder
	defaultDuration time.Duration
	items           []Notification
}

// Option はCenterの生成オプション。
type Option func(*Center)

// WithClock は時刻の取得元を差し替える。
func WithClock(clock clockwork.Clock) Option {
	return func(c *Center) {
		c.clock = clock
	}
}

// WithRecorder は件数の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(c *Center) {
		c.recorder = r
	}
}

// NewCenter はCenterを生成する。defaultDurationが0以下の場合はDefaultDurationを使う。
func NewCenter(bus Emitter, defaultDuration time.Duration, opts ...Option) *Center {
	if defaultDuration <= 0 {
		defaultDuration = DefaultDuration
	}
	c := &Center{
		clock:           clockwork.NewRealClock(),
		bus:             bus,
		defaultDuration: defaultDuration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Push は通知を追加する。durationが0以下の場合は既定の表示時間を使う。
func (c *Center) Push(ctx context.Context, severity Severity, message string, duration time.Duration) Notification {
	if duration <= 0 {
		duration = c.defaultDuration
	}
	n := Notification{
		ID:        uuid.NewString(),
		Severity:  severity,
		Message:   message,
		Duration:  duration,
		CreatedAt: c.clock.Now(),
	}

	c.mu.Lock()
	c.items = append(c.pruneLocked(n.CreatedAt), n)
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordNotification(string(severity))
	}
	c.emit(ctx)
	return n
}

// Success は成功通知を既定の表示時間で追加する。
func (c *Center) Success(ctx context.Context, message string) Notification {
	return c.Push(ctx, SeveritySuccess, message, 0)
}

// Error はエラー通知を既定の表示時間で追加する。
func (c *Center) Error(ctx context.Context, message string) Notification {
	return c.Push(ctx, SeverityError, message, 0)
}

// Info は情報通知を既定の表示時間で追加する。
func (c *Center) Info(ctx context.Context, message string) Notification {
	return c.Push(ctx, SeverityInfo, message, 0)
}

// Warning は警告通知を既定の表示時間で追加する。
func (c *Center) Warning(ctx context.Context, message string) Notification {
	return c.Push(ctx, SeverityWarning, message, 0)
}

// Active は表示時間内の通知を古い順に返す。期限切れの通知はここで取り除かれる。
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = c.pruneLocked(c.clock.Now())
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Dismiss は指定IDの通知を取り除く。見つかった場合はtrueを返す。
func (c *Center) Dismiss(ctx context.Context, id string) bool {
	c.mu.Lock()
	found := false
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()

	if found {
		c.emit(ctx)
	}
	return found
}

func (c *Center) pruneLocked(now time.Time) []Notification {
	kept := c.items[:0:0]
	for _, n := range c.items {
		if !n.expired(now) {
			kept = append(kept, n)
		}
	}
	return kept
}

func (c *Center) emit(ctx context.Context) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Emit(ctx, eventbus.EventNotificationsUpdated); err != nil {
		slog.Warn("notificationsUpdated subscribers failed", slog.String("error", err.Error()))
	}
}
