package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	a := hub.Subscribe()
	b := hub.Subscribe()
	defer a.Close()
	defer b.Close()

	hub.Publish(context.Background(), Event{VideoID: "v1", Progress: 10, Message: "extracting frames"})

	assert.Equal(t, 10, receive(t, a).Progress)
	assert.Equal(t, 10, receive(t, b).Progress)
	assert.Equal(t, 2, hub.Subscribers())
}

func TestHubNoReplayForLateSubscribers(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	hub.Publish(context.Background(), Event{VideoID: "v1", Progress: 5})

	late := hub.Subscribe()
	defer late.Close()

	hub.Publish(context.Background(), Event{VideoID: "v1", Progress: 10})
	assert.Equal(t, 10, receive(t, late).Progress)

	select {
	case ev := <-late.C():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHubSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(2, zerolog.Nop())
	slow := hub.Subscribe()
	fast := hub.Subscribe()
	defer slow.Close()
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 10; i++ {
			hub.Publish(context.Background(), Event{VideoID: "v1", Progress: i})
		}
	}()

	var got []int
	for len(got) < 2 {
		got = append(got, receive(t, fast).Progress)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	assert.Greater(t, hub.Dropped(), uint64(0))
	assert.Equal(t, []int{1, 2}, got[:2])
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	sub := hub.Subscribe()
	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())

	hub.Publish(context.Background(), Event{VideoID: "v1"})
}

func TestHubConcurrentSubscribePublish(t *testing.T) {
	hub := NewHub(4, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe()
			time.Sleep(time.Millisecond)
			sub.Close()
		}()
		go func(i int) {
			defer wg.Done()
			hub.Publish(context.Background(), Event{VideoID: "v", Progress: i})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers())
}
