package eventbus

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// --- モック定義 ---

type mockObserver struct {
	emits    map[string]int
	failures map[string]int
}

func newMockObserver() *mockObserver {
	return &mockObserver{emits: map[string]int{}, failures: map[string]int{}}
}

func (m *mockObserver) ObserveEmit(event string, _ int) { m.emits[event]++ }

func (m *mockObserver) ObserveHandlerFailure(event string) { m.failures[event]++ }

var _ Observer = (*mockObserver)(nil)

// --- テスト ---

func TestEmit_NoSubscribers_IsNoop(t *testing.T) {
	bus := New()

	if err := bus.Emit(context.Background(), "nothing"); err != nil {
		t.Fatalf("Emit() error = %v, want nil", err)
	}
}

func TestEmit_CallsSubscribersInRegistrationOrder(t *testing.T) {
	bus := New()
	var calls []string

	for _, name := range []string{"a", "b", "c"} {
		name := name
		bus.Subscribe("evt", func(ctx context.Context) error {
			calls = append(calls, name)
			return nil
		})
	}

	if err := bus.Emit(context.Background(), "evt"); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestEmit_OnlyTargetsNamedEvent(t *testing.T) {
	bus := New()
	called := false
	bus.Subscribe("other", func(ctx context.Context) error {
		called = true
		return nil
	})

	_ = bus.Emit(context.Background(), "evt")

	if called {
		t.Error("subscriber of a different event should not be called")
	}
}

func TestUnsubscribe_RemovesOnlyThatSubscription(t *testing.T) {
	bus := New()
	var calls []string

	bus.Subscribe("evt", func(ctx context.Context) error { calls = append(calls, "a"); return nil })
	unsubB := bus.Subscribe("evt", func(ctx context.Context) error { calls = append(calls, "b"); return nil })
	bus.Subscribe("evt", func(ctx context.Context) error { calls = append(calls, "c"); return nil })

	unsubB()
	_ = bus.Emit(context.Background(), "evt")

	if want := []string{"a", "c"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	bus := New()
	count := 0
	handler := func(ctx context.Context) error { count++; return nil }

	unsubFirst := bus.Subscribe("evt", handler)
	bus.Subscribe("evt", handler)

	unsubFirst()
	unsubFirst()
	unsubFirst()

	if got := bus.SubscriberCount("evt"); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}

	_ = bus.Emit(context.Background(), "evt")
	if count != 1 {
		t.Errorf("handler called %d times, want 1 (second registration must survive)", count)
	}
}

func TestSubscribe_AfterUnsubscribe_Reattaches(t *testing.T) {
	bus := New()
	count := 0
	handler := func(ctx context.Context) error { count++; return nil }

	unsub := bus.Subscribe("evt", handler)
	unsub()
	_ = bus.Emit(context.Background(), "evt")

	bus.Subscribe("evt", handler)
	_ = bus.Emit(context.Background(), "evt")

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
}

func TestEmit_UnsubscribedDuringEmit_IsNotCalled(t *testing.T) {
	bus := New()
	var unsubB func()
	bCalled := false

	bus.Subscribe("evt", func(ctx context.Context) error {
		unsubB()
		return nil
	})
	unsubB = bus.Subscribe("evt", func(ctx context.Context) error {
		bCalled = true
		return nil
	})

	_ = bus.Emit(context.Background(), "evt")

	if bCalled {
		t.Error("subscription removed earlier in the same emit should not fire")
	}
}

func TestEmit_FailingSubscriberDoesNotStopOthers(t *testing.T) {
	obs := newMockObserver()
	bus := New(WithObserver(obs))
	errBoom := errors.New("boom")
	lastCalled := false

	bus.Subscribe("evt", func(ctx context.Context) error { return errBoom })
	bus.Subscribe("evt", func(ctx context.Context) error { panic("kaboom") })
	bus.Subscribe("evt", func(ctx context.Context) error { lastCalled = true; return nil })

	err := bus.Emit(context.Background(), "evt")

	if !lastCalled {
		t.Error("subscriber after failing ones should still run")
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("Emit() error = %v, want it to wrap errBoom", err)
	}
	if obs.failures["evt"] != 2 {
		t.Errorf("observed failures = %d, want 2", obs.failures["evt"])
	}
	if obs.emits["evt"] != 1 {
		t.Errorf("observed emits = %d, want 1", obs.emits["evt"])
	}
}

func TestEmit_ReentrantSameEvent_IsRejected(t *testing.T) {
	bus := New()
	var nestedErr error
	calls := 0

	bus.Subscribe("evt", func(ctx context.Context) error {
		calls++
		nestedErr = bus.Emit(ctx, "evt")
		return nil
	})

	if err := bus.Emit(context.Background(), "evt"); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}
	if !errors.Is(nestedErr, ErrReentrantEmit) {
		t.Errorf("nested Emit() error = %v, want ErrReentrantEmit", nestedErr)
	}
}

func TestEmit_NestedDifferentEvent_IsAllowed(t *testing.T) {
	bus := New()
	innerCalled := false

	bus.Subscribe("inner", func(ctx context.Context) error {
		innerCalled = true
		return nil
	})
	bus.Subscribe("outer", func(ctx context.Context) error {
		return bus.Emit(ctx, "inner")
	})

	if err := bus.Emit(context.Background(), "outer"); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if !innerCalled {
		t.Error("nested emit of a different event should run")
	}
}

// 任意の登録/解除列の後、解除された購読者は二度と呼ばれないことを検証する。
func TestUnsubscribe_ArbitrarySequences(t *testing.T) {
	bus := New()
	const n = 6
	counts := make([]int, n)
	unsubs := make([]func(), n)

	for i := 0; i < n; i++ {
		i := i
		unsubs[i] = bus.Subscribe("evt", func(ctx context.Context) error {
			counts[i]++
			return nil
		})
	}

	removed := map[int]bool{}
	for _, idx := range []int{3, 0, 3, 5} {
		unsubs[idx]()
		removed[idx] = true
		before := append([]int(nil), counts...)

		_ = bus.Emit(context.Background(), "evt")

		for i := 0; i < n; i++ {
			delta := counts[i] - before[i]
			if removed[i] && delta != 0 {
				t.Errorf("removed subscriber %d fired after unsubscribe", i)
			}
			if !removed[i] && delta != 1 {
				t.Errorf("subscriber %d fired %d times, want 1", i, delta)
			}
		}
	}
}
