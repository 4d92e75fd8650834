package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishUserRoundtrip(t *testing.T) {
	rdb := testRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type delivery struct {
		UID     string
		Payload string
	}
	got := make(chan delivery, 1)
	require.NoError(t, n.StartPatternSubscriber(ctx, func(uid, payload string) {
		got <- delivery{UID: uid, Payload: payload}
	}))

	// PSubscribe setup races with the first publish; retry until the
	// subscriber sees it.
	event := Event{Type: EventPostLiked, PostID: "p1", ActorUID: "bob"}
	deadline := time.After(2 * time.Second)
	for {
		require.NoError(t, n.PublishUser(ctx, "alice", event))
		select {
		case d := <-got:
			assert.Equal(t, "alice", d.UID)
			var decoded Event
			require.NoError(t, json.Unmarshal([]byte(d.Payload), &decoded))
			assert.Equal(t, EventPostLiked, decoded.Type)
			assert.Equal(t, "p1", decoded.PostID)
			assert.Equal(t, "bob", decoded.ActorUID)
			assert.False(t, decoded.Timestamp.IsZero())
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("event never delivered")
		}
	}
}

func TestPublishUserNoopWithoutRedis(t *testing.T) {
	n := NewNotifier(nil)

	require.NoError(t, n.PublishUser(context.Background(), "alice", Event{Type: EventNewMessage}))
	require.NoError(t, n.StartPatternSubscriber(context.Background(), func(string, string) {
		t.Fatal("no messages expected")
	}))
}

func TestPublishUserSkipsEmptyUID(t *testing.T) {
	rdb := testRedis(t)
	n := NewNotifier(rdb)

	require.NoError(t, n.PublishUser(context.Background(), "", Event{Type: EventNewMessage}))
}

func TestHubRegisterAndBroadcast(t *testing.T) {
	hub := NewHub()

	client, err := hub.Register("alice", nil)
	require.NoError(t, err)
	assert.True(t, hub.IsOnline("alice"))
	assert.False(t, hub.IsOnline("bob"))

	hub.Broadcast("alice", []byte(`{"type":"post_liked"}`))
	select {
	case msg := <-client.Send:
		assert.JSONEq(t, `{"type":"post_liked"}`, string(msg))
	default:
		t.Fatal("broadcast did not reach the registered client")
	}

	// Broadcast to an unknown uid is a no-op.
	hub.Broadcast("bob", []byte("x"))

	hub.UnregisterClient(client)
	assert.False(t, hub.IsOnline("alice"))
	// Unregister is idempotent.
	hub.UnregisterClient(client)
}

func TestHubPerUserConnectionLimit(t *testing.T) {
	hub := NewHub()

	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register("alice", nil)
		require.NoError(t, err)
	}
	_, err := hub.Register("alice", nil)
	assert.Error(t, err)
}

func TestHubRejectsRegistrationAfterShutdown(t *testing.T) {
	hub := NewHub()
	require.NoError(t, hub.Shutdown(context.Background()))

	_, err := hub.Register("alice", nil)
	assert.Error(t, err)
}

func TestTrySendDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	client, err := hub.Register("alice", nil)
	require.NoError(t, err)

	for i := 0; i < cap(client.Send); i++ {
		client.Send <- []byte("fill")
	}
	// Must not block even though the buffer is full.
	client.TrySend([]byte("overflow"))
}
