package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"booking-inbox/client/internal/ui"
	"booking-inbox/client/pkg/logger"
	pkgws "booking-inbox/client/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resyncCall struct {
	topic   string
	trigger ui.Trigger
}

type fakeController struct {
	mu      sync.Mutex
	resyncs []resyncCall
}

func (f *fakeController) Subscribe(_ context.Context, topic string) (pkgws.Envelope, error) {
	if topic == pkgws.TopicInbox {
		return pkgws.Envelope{Type: pkgws.TypeInbox, Payload: map[string]int{"totalUnread": 2}}, nil
	}
	return pkgws.Envelope{Type: pkgws.TypeThread, Payload: map[string]string{"topic": topic}}, nil
}

func (f *fakeController) Resync(_ context.Context, topic string, trigger ui.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs = append(f.resyncs, resyncCall{topic, trigger})
	return nil
}

func (f *fakeController) calls() []resyncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resyncCall(nil), f.resyncs...)
}

func startHub(t *testing.T) (*Hub, *fakeController, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	controller := &fakeController{}
	hub := NewHub(controller, Options{AllowedOrigins: []string{"*"}, Logger: logger.Discard()})
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, controller, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestConnectSendsInboxSnapshot(t *testing.T) {
	hub, _, conn := startHub(t)

	frame := readFrame(t, conn)
	assert.Equal(t, pkgws.TypeInbox, frame["type"])
	assert.Eventually(t, func() bool { return hub.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestThreadFramesNeedSubscription(t *testing.T) {
	hub, _, conn := startHub(t)
	readFrame(t, conn)

	hub.Publish(pkgws.ThreadTopic("c1"), pkgws.Envelope{Type: pkgws.TypeThread, Payload: "dropped"})
	hub.Publish(pkgws.TopicInbox, pkgws.Envelope{Type: pkgws.TypeInbox, Payload: "kept"})
	frame := readFrame(t, conn)
	assert.Equal(t, "kept", frame["payload"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    pkgws.TypeSubscribe,
		"payload": map[string]string{"conversationId": "c1"},
	}))
	frame = readFrame(t, conn)
	assert.Equal(t, pkgws.TypeThread, frame["type"])

	hub.Publish(pkgws.ThreadTopic("c1"), pkgws.Envelope{Type: pkgws.TypeThread, Payload: "update"})
	frame = readFrame(t, conn)
	assert.Equal(t, "update", frame["payload"])
}

func TestPingAndResync(t *testing.T) {
	_, controller, conn := startHub(t)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": pkgws.TypePing}))
	assert.Equal(t, pkgws.TypePong, readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    pkgws.TypeResync,
		"payload": map[string]string{"trigger": "visibilitychange"},
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    pkgws.TypeResync,
		"payload": map[string]string{"trigger": "pageshow", "conversationId": "c9"},
	}))

	assert.Eventually(t, func() bool { return len(controller.calls()) == 2 }, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []resyncCall{
		{pkgws.TopicInbox, ui.TriggerVisibility},
		{pkgws.ThreadTopic("c9"), ui.TriggerPageShow},
	}, controller.calls())
}

func TestUnknownFrameGetsError(t *testing.T) {
	_, _, conn := startHub(t)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	frame := readFrame(t, conn)
	assert.Equal(t, pkgws.TypeError, frame["type"])
}
