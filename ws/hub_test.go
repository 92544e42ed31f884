package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tello-bridge/common"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]interface{}
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func newTestHub(t *testing.T, config Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(config)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestBroadcastEvents(t *testing.T) {
	hub, url := newTestHub(t, DefaultConfig())
	first := dial(t, url)
	second := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.PublishVideoPacket("AAAAAWc="))
	for _, conn := range []*websocket.Conn{first, second} {
		event := readEvent(t, conn)
		assert.Equal(t, EventVideoPacket, event["event"])
		assert.Equal(t, "AAAAAWc=", event["payload"])
	}

	require.NoError(t, hub.PublishState(common.DroneState{Connected: true, Battery: 90}))
	event := readEvent(t, first)
	assert.Equal(t, EventState, event["event"])
	payload, ok := event["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, payload["connected"])
	assert.Equal(t, float64(90), payload["battery"])

	require.NoError(t, hub.PublishTelemetry(common.TelemetrySnapshot{Height: 120}))
	event = readEvent(t, first)
	assert.Equal(t, EventTelemetry, event["event"])
}

func TestClientLeaves(t *testing.T) {
	hub, url := newTestHub(t, DefaultConfig())
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	// broadcasting without clients is fine
	dropped, err := hub.Broadcast(EventVideoPacket, "x")
	require.NoError(t, err)
	assert.Zero(t, dropped)
}

func TestSlowClientDropsEvents(t *testing.T) {
	config := DefaultConfig()
	config.SendBuffer = 1
	hub := NewHub(config)

	// a registered client whose writer never drains
	c := &client{send: make(chan []byte, config.SendBuffer)}
	hub.clients[c] = struct{}{}

	dropped, err := hub.Broadcast(EventVideoPacket, "a")
	require.NoError(t, err)
	assert.Zero(t, dropped)

	dropped, err = hub.Broadcast(EventVideoPacket, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Len(t, c.send, 1)
}

func TestBroadcastMarshalError(t *testing.T) {
	hub := NewHub(DefaultConfig())
	_, err := hub.Broadcast(EventState, make(chan int))
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	config := DefaultConfig()
	config.Addr = "127.0.0.1:0"
	hub := NewHub(config)
	require.NoError(t, hub.Start())

	conn := dial(t, "ws://"+hub.Addr().String()+config.Path)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Stop()
	assert.Zero(t, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "clients are disconnected on stop")
}
