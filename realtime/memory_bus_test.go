package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(t *testing.T, msgType string) Message {
	t.Helper()
	msg, err := NewMessage(msgType, map[string]string{"k": "v"})
	require.NoError(t, err)
	return msg
}

func TestMemoryBus_FanOut(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	first, err := bus.Subscribe(ctx, DashboardGroup("shop"))
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx, DashboardGroup("shop"))
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, DashboardGroup("blog"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, DashboardGroup("shop"), testMessage(t, "pagePopularity")))

	for _, sub := range []<-chan Message{first, second} {
		select {
		case msg := <-sub:
			assert.Equal(t, "pagePopularity", msg.Type)
		default:
			t.Fatal("subscriber did not receive the message")
		}
	}

	select {
	case <-other:
		t.Fatal("message leaked across groups")
	default:
	}
}

func TestMemoryBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	err := bus.Publish(context.Background(), DashboardGroup("empty"), testMessage(t, "activeUserCount"))
	assert.NoError(t, err)
}

func TestMemoryBus_ContextCancelUnsubscribes(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, DashboardGroup("shop"))
	require.NoError(t, err)

	cancel()

	// The channel close happens on a goroutine watching ctx.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-sub:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	_, err := bus.Subscribe(ctx, DashboardGroup("shop"))
	require.NoError(t, err)

	msg := testMessage(t, "livePageView")
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the subscriber buffer; the extra messages are dropped.
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = bus.Publish(ctx, DashboardGroup("shop"), msg)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestMemoryBus_ClosedBusRejectsUse(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, DashboardGroup("shop"))
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, open := <-sub
	assert.False(t, open, "subscriber channel must be closed with the bus")

	assert.ErrorIs(t, bus.Publish(ctx, DashboardGroup("shop"), testMessage(t, "x")), ErrBusClosed)
	_, err = bus.Subscribe(ctx, DashboardGroup("shop"))
	assert.ErrorIs(t, err, ErrBusClosed)
}

// go test -race -run Concurrent ./realtime
func TestMemoryBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	var received int64
	var wg sync.WaitGroup

	for s := 0; s < 10; s++ {
		sub, err := bus.Subscribe(ctx, DashboardGroup("shop"))
		require.NoError(t, err)
		wg.Add(1)
		go func(sub <-chan Message) {
			defer wg.Done()
			for range sub {
				atomic.AddInt64(&received, 1)
			}
		}(sub)
	}

	// 50 messages total stays under the subscriber buffer, so nothing
	// can be dropped even if a reader never gets scheduled until Close.
	var publishers sync.WaitGroup
	for p := 0; p < 5; p++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			msg := testMessage(t, "activeUserCount")
			for i := 0; i < 10; i++ {
				_ = bus.Publish(ctx, DashboardGroup("shop"), msg)
			}
		}()
	}
	publishers.Wait()
	bus.Close()
	wg.Wait()

	assert.Equal(t, int64(10*5*10), atomic.LoadInt64(&received))
}

func TestGroupKeys(t *testing.T) {
	assert.Equal(t, "shop", VisitorGroup("shop"))
	assert.Equal(t, "dashboard-shop", DashboardGroup("shop"))
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("activeUserCount", map[string]int{"count": 3})
	require.NoError(t, err)
	assert.Equal(t, "activeUserCount", msg.Type)

	var payload map[string]int
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, 3, payload["count"])
}
