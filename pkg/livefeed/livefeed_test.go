package livefeed

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *eventbus.Bus, string) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	hub := NewHub(logger)
	bus := eventbus.New()
	hub.Attach(bus)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, bus, strings.TrimPrefix(srv.URL, "http://")
}

func TestMessageJsonRoundTrip(t *testing.T) {
	line := `{"info":"pm","ok":true,"pm":{"ug_m3":{"pm25_swap":4.2}}}`
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := MessageFromData(eventbus.DataEvent{Line: line, Frame: protocol.Decode(line), ReceivedAt: at})

	got := MessageFromJsonBytes(msg.ToJsonBytes())
	require.NotNil(t, got)
	assert.Equal(t, MessageData, got.Type)
	assert.Equal(t, "structured", got.Kind)
	assert.True(t, at.Equal(got.ReceivedAt))
	mass, ok := got.Response.PM.Mass()
	require.True(t, ok)
	assert.InDelta(t, 4.2, mass.PM25, 1e-9)

	assert.Nil(t, MessageFromJsonBytes([]byte("not json")))
	assert.Nil(t, MessageFromJsonBytes([]byte(`{"line":"no type"}`)))
}

func TestHubBroadcastsBusEvents(t *testing.T) {
	hub, bus, host := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+host+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	bus.EmitData(eventbus.DataEvent{Line: "NextPM ready", Frame: protocol.Decode("NextPM ready"), ReceivedAt: time.Now()})
	bus.EmitDisconnect(eventbus.DisconnectEvent{Port: "/dev/ttyACM0", Reason: errors.New("unplugged")})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg := MessageFromJsonBytes(data)
	require.NotNil(t, msg)
	assert.Equal(t, MessageData, msg.Type)
	assert.Equal(t, "opaque", msg.Kind)
	assert.Equal(t, "NextPM ready", msg.Line)

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	msg = MessageFromJsonBytes(data)
	require.NotNil(t, msg)
	assert.Equal(t, MessageDisconnect, msg.Type)
	assert.Equal(t, "unplugged", msg.Reason)
}

func TestNewClientGetsLatestData(t *testing.T) {
	hub, _, host := startHub(t)
	hub.Broadcast(Message{Type: MessageData, Line: "first"})
	hub.Broadcast(Message{Type: MessageData, Line: "second"})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+host+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg := MessageFromJsonBytes(data)
	require.NotNil(t, msg)
	assert.Equal(t, "second", msg.Line)
}

func TestListenerReceivesAndStops(t *testing.T) {
	hub, _, host := startHub(t)
	logger, _ := logtest.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan *Message, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		StartListener(ctx, host, func(msg *Message) { received <- msg }, logger)
	}()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Broadcast(Message{Type: MessageConnect, Port: "/dev/ttyUSB0"})

	select {
	case msg := <-received:
		assert.Equal(t, MessageConnect, msg.Type)
		assert.Equal(t, "/dev/ttyUSB0", msg.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not receive the message")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop")
	}
}
