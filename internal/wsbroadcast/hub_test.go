package wsbroadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"knowledgebase/internal/eventbus"
)

func startTestHub(t *testing.T) (*Hub, *httptest.Server, func()) {
	t.Helper()
	bus := eventbus.New(eventbus.DefaultConfig(), nil)
	bus.Start()

	hub := New(bus, 50*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client := hub.NewClient(conn)
		hub.RegisterClient(client)
		go client.WritePump(ctx)
		go client.ReadPump(ctx)
	}))

	cleanup := func() {
		srv.Close()
		cancel()
		bus.Stop()
	}
	return hub, srv, cleanup
}

func dial(t *testing.T, srvURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srvURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestHubBroadcastsIndexStatusEvent(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig(), nil)
	bus.Start()
	defer bus.Stop()

	hub := New(bus, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client := hub.NewClient(conn)
		hub.RegisterClient(client)
		go client.WritePump(ctx)
		go client.ReadPump(ctx)
	}))
	defer srv.Close()

	conn := dial(t, srv.URL)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	bus.Publish(eventbus.Event{
		Topic:   eventbus.TopicIndexStatus,
		Path:    "notes",
		Payload: eventbus.IndexStatusPayload{Status: "indexing"},
	})

	var frame Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, string(eventbus.TopicIndexStatus), frame.Type)
	require.Equal(t, "notes", frame.Path)
}

func TestHubSendsPeriodicPing(t *testing.T) {
	_, _, cleanup := startTestHubForPing(t)
	defer cleanup()
}

func startTestHubForPing(t *testing.T) (*websocket.Conn, *Hub, func()) {
	t.Helper()
	bus := eventbus.New(eventbus.DefaultConfig(), nil)
	bus.Start()

	hub := New(bus, 20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client := hub.NewClient(conn)
		hub.RegisterClient(client)
		go client.WritePump(ctx)
		go client.ReadPump(ctx)
	}))

	conn := dial(t, srv.URL)

	var frame Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, string(eventbus.TopicPing), frame.Type)

	return conn, hub, func() {
		conn.Close()
		srv.Close()
		cancel()
		bus.Stop()
	}
}

func TestHubRemovesClientOnDisconnect(t *testing.T) {
	hub, srv, cleanup := startTestHub(t)
	defer cleanup()

	conn := dial(t, srv.URL)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
