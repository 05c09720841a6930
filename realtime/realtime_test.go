package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Gin_postgres_redis_rent_tracker/lifecycle"
	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/persist"
)

type staticSource []models.Equipment

func (s staticSource) All() []models.Equipment { return s }

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case raw, ok := <-c.Send():
		require.True(t, ok, "client channel closed")
		var m Message
		require.NoError(t, json.Unmarshal(raw, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
	return Message{}
}

func TestHubBroadcast(t *testing.T) {
	hub := runHub(t)
	a, b := NewClient(hub), NewClient(hub)
	hub.Register(a)
	hub.Register(b)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast([]byte(`{"type":"equipment.changed"}`))
	assert.Equal(t, TypeEquipmentChanged, receive(t, a).Type)
	assert.Equal(t, TypeEquipmentChanged, receive(t, b).Type)

	hub.Unregister(a)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	_, open := <-a.Send()
	assert.False(t, open)
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { hub.Run(ctx); close(stopped) }()

	c := NewClient(hub)
	hub.Register(c)
	cancel()
	<-stopped

	_, open := <-c.Send()
	assert.False(t, open)

	late := NewClient(hub)
	hub.Register(late)
	hub.Unregister(late)
	_, open = <-late.Send()
	assert.False(t, open)
}

func TestBroadcasterPushesDashboard(t *testing.T) {
	hub := runHub(t)
	c := NewClient(hub)
	hub.Register(c)

	bus := EventBus.New()
	src := staticSource{{ID: "P001", Status: models.StatusReadyForShipment}, {ID: "P002", IsRented: true}}
	require.NoError(t, NewBroadcaster(hub, src).Attach(bus))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	bus.Publish(lifecycle.TopicChanged, lifecycle.Event{Kind: lifecycle.EventRented, ProductID: "P002"})
	bus.WaitAsync()

	m := receive(t, c)
	assert.Equal(t, TypeEquipmentChanged, m.Type)
	payload := m.Payload.(map[string]any)
	assert.Equal(t, "P002", payload["event"].(map[string]any)["productId"])
	dash := payload["dashboard"].(map[string]any)
	assert.EqualValues(t, 2, dash["total"])
	assert.EqualValues(t, 1, dash["rented"])

	bus.Publish(TopicStorageFailure, &persist.StorageError{Op: "save", Key: "P001", Err: errors.New("offline")})
	bus.WaitAsync()
	m = receive(t, c)
	assert.Equal(t, TypeStorageFailure, m.Type)
	assert.Equal(t, "offline", m.Payload.(map[string]any)["error"])
}

func TestClientOverWebSocket(t *testing.T) {
	hub := runHub(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(hub).Serve(conn)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	raw, err := NewMessage(TypeEquipmentCleared, map[string]int{"count": 3}).JSON()
	require.NoError(t, err)
	hub.Broadcast(raw)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(got), `"equipment.cleared"`)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
