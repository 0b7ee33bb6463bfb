package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRelayForwardsAcrossProcesses(t *testing.T) {
	client := newRedis(t)

	apiHub := NewHub(8, zerolog.Nop())
	apiRelay := NewRedisRelay(client, "video:progress", apiHub, zerolog.Nop())
	workerRelay := NewRedisRelay(client, "video:progress", NewHub(8, zerolog.Nop()), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- apiRelay.Run(ctx) }()

	select {
	case <-apiRelay.Subscribed():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	sub := apiHub.Subscribe()
	defer sub.Close()

	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	workerRelay.Publish(context.Background(), Event{VideoID: "v1", Progress: 45, Message: "detecting sensitive elements", Timestamp: ts})

	ev := receive(t, sub)
	assert.Equal(t, "v1", ev.VideoID)
	assert.Equal(t, 45, ev.Progress)
	assert.True(t, ts.Equal(ev.Timestamp))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRedisRelaySkipsOwnEvents(t *testing.T) {
	client := newRedis(t)

	hub := NewHub(8, zerolog.Nop())
	relay := NewRedisRelay(client, "video:progress", hub, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	<-relay.Subscribed()

	sub := hub.Subscribe()
	defer sub.Close()

	relay.Publish(context.Background(), Event{VideoID: "v1", Progress: 100})
	assert.Equal(t, 100, receive(t, sub).Progress)

	select {
	case ev := <-sub.C():
		t.Fatalf("event delivered twice: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestRedisRelayPublishSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub(8, zerolog.Nop())
	sub := hub.Subscribe()
	defer sub.Close()

	relay := NewRedisRelay(client, "video:progress", hub, zerolog.Nop())
	mr.Close()

	relay.Publish(context.Background(), Event{VideoID: "v1", Progress: 20})
	assert.Equal(t, 20, receive(t, sub).Progress, "local observers still receive the event")
}
