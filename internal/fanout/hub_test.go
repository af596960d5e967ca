package fanout

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/curvewatch/indexer/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenA = "0x00000000000000000000000000000000000000a1"
	tokenB = "0x00000000000000000000000000000000000000b1"
	alice  = "0x00000000000000000000000000000000000000e1"
)

func connect(hub *Hub, buffer int) *Client {
	c := newClient(hub, nil, NewAuthenticator(testSecret), "", buffer)
	hub.Register(c)
	return c
}

func drain(t *testing.T, c *Client) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return frames
			}
			var f Frame
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHubRoutesByScope(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	pub := connect(hub, 8)
	watcherA := connect(hub, 8)
	watcherB := connect(hub, 8)
	user := connect(hub, 8)

	require.NoError(t, hub.Subscribe(pub, notify.Public()))
	require.NoError(t, hub.Subscribe(watcherA, notify.Token(tokenA)))
	require.NoError(t, hub.Subscribe(watcherB, notify.Token("0x00000000000000000000000000000000000000B1")))
	require.NoError(t, hub.Subscribe(user, notify.User(alice)))

	require.NoError(t, hub.Publish(ctx, notify.Notification{
		Event:   notify.EventTokenHoldersUpdated,
		Targets: []notify.Target{notify.Token(tokenB)},
		Data:    notify.HoldersUpdatedPayload{Address: tokenB},
	}))
	require.NoError(t, hub.Publish(ctx, notify.Notification{
		Event:   notify.EventTrade,
		Targets: []notify.Target{notify.Token(tokenA), notify.User(alice)},
		Data:    map[string]string{"token": tokenA},
	}))

	assert.Empty(t, drain(t, pub))

	frames := drain(t, watcherA)
	require.Len(t, frames, 1)
	assert.Equal(t, "trade", frames[0].Event)

	frames = drain(t, watcherB)
	require.Len(t, frames, 1)
	assert.Equal(t, "tokenHoldersUpdated", frames[0].Event)

	frames = drain(t, user)
	require.Len(t, frames, 1)
	assert.Equal(t, "trade", frames[0].Event)
}

func TestHubDeliversOncePerNotification(t *testing.T) {
	hub := NewHub()
	c := connect(hub, 8)
	require.NoError(t, hub.Subscribe(c, notify.Public()))
	require.NoError(t, hub.Subscribe(c, notify.Token(tokenA)))

	require.NoError(t, hub.Publish(context.Background(), notify.Notification{
		Event:   notify.EventTokenUpdate,
		Targets: []notify.Target{notify.Token(tokenA), notify.Public()},
		Data:    map[string]string{"price": "0.25"},
	}))
	assert.Len(t, drain(t, c), 1)
}

func TestHubDropsFramesForFullQueues(t *testing.T) {
	hub := NewHub()
	slow := connect(hub, 1)
	fast := connect(hub, 8)
	require.NoError(t, hub.Subscribe(slow, notify.Public()))
	require.NoError(t, hub.Subscribe(fast, notify.Public()))

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish(context.Background(), notify.Notification{
			Event:   notify.EventGraduate,
			Targets: []notify.Target{notify.Public()},
			Data:    map[string]int{"seq": i},
		}))
	}
	assert.Len(t, drain(t, slow), 1)
	assert.Len(t, drain(t, fast), 3)
}

func TestHubUnregisterLeavesEveryScope(t *testing.T) {
	hub := NewHub()
	c := connect(hub, 8)
	require.NoError(t, hub.Subscribe(c, notify.Public()))
	require.NoError(t, hub.Subscribe(c, notify.Token(tokenA)))
	require.NoError(t, hub.Subscribe(c, notify.User(alice)))
	assert.Equal(t, 1, hub.ClientCount())

	c.Close()
	c.Close()

	assert.Equal(t, 0, hub.ClientCount())
	assert.Zero(t, hub.SubscriberCount(notify.Public()))
	assert.Zero(t, hub.SubscriberCount(notify.Token(tokenA)))
	assert.Zero(t, hub.SubscriberCount(notify.User(alice)))
	assert.Empty(t, hub.tokens)
	assert.Empty(t, hub.users)

	_, open := <-c.send
	assert.False(t, open, "send queue is closed on disconnect")
	assert.False(t, c.enqueue([]byte("late")), "closed clients accept nothing")

	assert.Error(t, hub.Subscribe(c, notify.Public()))
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	c := connect(hub, 8)
	require.NoError(t, hub.Subscribe(c, notify.Token(tokenA)))
	require.NoError(t, hub.Subscribe(c, notify.Token(tokenB)))

	hub.Unsubscribe(c, notify.Token("0x00000000000000000000000000000000000000A1"))
	assert.Zero(t, hub.SubscriberCount(notify.Token(tokenA)))
	assert.Equal(t, 1, hub.SubscriberCount(notify.Token(tokenB)))
	assert.Equal(t, []notify.Target{notify.Token(tokenB)}, c.targets())
}

func TestHubRejectsUnknownScope(t *testing.T) {
	hub := NewHub()
	c := connect(hub, 8)
	assert.Error(t, hub.Subscribe(c, notify.Target{Scope: "galaxy"}))
}
