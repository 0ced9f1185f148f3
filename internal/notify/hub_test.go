package notify

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReadiness struct {
	ready atomic.Bool
}

func (f *fakeReadiness) CurrentlyReady() bool { return f.ready.Load() }

type fakeRecorder struct {
	mu          sync.Mutex
	subscribers int
	results     map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{results: make(map[string]int)}
}

func (r *fakeRecorder) SetSubscribers(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = n
}

func (r *fakeRecorder) ObserveEvent(event, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[event+"/"+result]++
}

func (r *fakeRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[key]
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_AnnounceReachesAllSubscribers(t *testing.T) {
	h := NewHub(&fakeReadiness{}, nil, nil)
	defer h.Close()

	ctx := t.Context()
	subs := []*Subscription{h.Subscribe(ctx), h.Subscribe(ctx), h.Subscribe(ctx)}

	h.Announce(QR("ABC123"), nil)

	for i, sub := range subs {
		ev := receive(t, sub)
		assert.Equal(t, EventQR, ev.Name, "subscriber %d", i)
		assert.Equal(t, "ABC123", ev.Payload, "subscriber %d", i)
	}
}

func TestHub_SubscribeBeforeReady_NoReplay(t *testing.T) {
	h := NewHub(&fakeReadiness{}, nil, nil)
	defer h.Close()

	sub := h.Subscribe(t.Context())

	assertNoEvent(t, sub)
}

func TestHub_SubscribeAfterReady_ReplaysReadyOnce(t *testing.T) {
	ready := &fakeReadiness{}
	ready.ready.Store(true)
	h := NewHub(ready, nil, nil)
	defer h.Close()

	sub := h.Subscribe(t.Context())

	ev := receive(t, sub)
	assert.Equal(t, EventReady, ev.Name)
	assertNoEvent(t, sub)
}

func TestHub_Announce_TransitionFalse_DoesNotDeliver(t *testing.T) {
	h := NewHub(&fakeReadiness{}, nil, nil)
	defer h.Close()

	sub := h.Subscribe(t.Context())

	delivered := h.Announce(ReadyEvent(), func() bool { return false })

	assert.False(t, delivered)
	assertNoEvent(t, sub)
}

// TestHub_ConcurrentJoinAndReady は購読開始とready発行が競合しても
// 各購読者がreadyをちょうど1回受け取ることを検証する。
func TestHub_ConcurrentJoinAndReady(t *testing.T) {
	for round := 0; round < 50; round++ {
		ready := &fakeReadiness{}
		h := NewHub(ready, nil, nil)
		ctx := t.Context()

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			subs []*Subscription
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sub := h.Subscribe(ctx)
				mu.Lock()
				subs = append(subs, sub)
				mu.Unlock()
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Announce(ReadyEvent(), func() bool {
				return ready.ready.CompareAndSwap(false, true)
			})
		}()
		wg.Wait()

		for _, sub := range subs {
			ev := receive(t, sub)
			require.Equal(t, EventReady, ev.Name)
			select {
			case extra := <-sub.Events():
				t.Fatalf("round %d: subscriber received duplicate event %+v", round, extra)
			default:
			}
		}
		h.Close()
	}
}

func TestHub_UnsubscribedReceivesNothing(t *testing.T) {
	h := NewHub(&fakeReadiness{}, nil, nil)
	defer h.Close()

	ctx := t.Context()
	gone := h.Subscribe(ctx)
	stay := h.Subscribe(ctx)

	h.Unsubscribe(gone.ID)
	h.Announce(QR("code"), nil)

	_, ok := <-gone.Events()
	assert.False(t, ok, "unsubscribed channel should be closed")
	assert.Equal(t, "code", receive(t, stay).Payload)
}

func TestHub_Unsubscribe_Idempotent(t *testing.T) {
	h := NewHub(&fakeReadiness{}, nil, nil)
	defer h.Close()

	sub := h.Subscribe(t.Context())
	h.Unsubscribe(sub.ID)

	assert.NotPanics(t, func() { h.Unsubscribe(sub.ID) })
	assert.NotPanics(t, func() { h.Unsubscribe("unknown") })
	assert.Equal(t, 0, h.Count())
}

func TestHub_ContextCancel_Unsubscribes(t *testing.T) {
	h := NewHub(&fakeReadiness{}, nil, nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := h.Subscribe(ctx)
	require.Equal(t, 1, h.Count())

	cancel()

	require.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 10*time.Millisecond)
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestHub_Unsubscribe_StopsContextWatcher(t *testing.T) {
	h := NewHub(&fakeReadiness{}, nil, nil)
	defer h.Close()

	sub := h.Subscribe(context.Background())
	h.Unsubscribe(sub.ID)

	select {
	case <-sub.done:
	case <-time.After(time.Second):
		t.Fatal("done was not closed on unsubscribe")
	}
}

// TestHub_BackgroundContext_NoGoroutineLeak はキャンセルされないctxで購読しても
// 購読解除とClose後に監視goroutineが残らないことを検証する。
func TestHub_BackgroundContext_NoGoroutineLeak(t *testing.T) {
	h := NewHub(&fakeReadiness{}, nil, nil)
	base := runtime.NumGoroutine()

	subs := make([]*Subscription, 0, 100)
	for i := 0; i < 100; i++ {
		subs = append(subs, h.Subscribe(context.Background()))
	}
	for _, sub := range subs[:50] {
		h.Unsubscribe(sub.ID)
	}
	h.Close()

	require.Eventually(t, func() bool { return runtime.NumGoroutine() <= base }, 2*time.Second, 10*time.Millisecond)
	for _, sub := range subs {
		_, ok := <-sub.done
		assert.False(t, ok)
	}
}

func TestHub_SlowSubscriber_DropsWithoutBlocking(t *testing.T) {
	rec := newFakeRecorder()
	h := NewHub(&fakeReadiness{}, rec, nil)
	defer h.Close()

	slow := h.Subscribe(t.Context())
	fast := h.Subscribe(t.Context())

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize+5; i++ {
			h.Announce(QR("code"), nil)
			<-fast.Events()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}

	assert.Len(t, slow.Events(), subscriberBufferSize)
	assert.Equal(t, 5, rec.count(EventQR+"/"+ResultDropped))
}

func TestHub_Close_ClosesAllChannels(t *testing.T) {
	rec := newFakeRecorder()
	h := NewHub(&fakeReadiness{}, rec, nil)

	a := h.Subscribe(t.Context())
	b := h.Subscribe(t.Context())
	h.Close()

	_, okA := <-a.Events()
	_, okB := <-b.Events()
	assert.False(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 0, rec.subscribers)

	late := h.Subscribe(t.Context())
	_, ok := <-late.Events()
	assert.False(t, ok, "subscription after close should be closed")
	assert.NotPanics(t, func() { h.Announce(QR("code"), nil) })
}

func TestHub_RecorderTracksSubscribers(t *testing.T) {
	rec := newFakeRecorder()
	h := NewHub(&fakeReadiness{}, rec, nil)
	defer h.Close()

	sub := h.Subscribe(t.Context())
	h.Subscribe(t.Context())
	rec.mu.Lock()
	assert.Equal(t, 2, rec.subscribers)
	rec.mu.Unlock()

	h.Unsubscribe(sub.ID)
	rec.mu.Lock()
	assert.Equal(t, 1, rec.subscribers)
	rec.mu.Unlock()
}

func TestEvent_Marshal(t *testing.T) {
	qr, err := QR("ABC").Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"qr","payload":"ABC"}`, string(qr))

	ready, err := ReadyEvent().Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ready"}`, string(ready))
}
