package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/invoicegate/internal/events"
)

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_Ping(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ping"}))
	assert.Equal(t, "pong", readMsg(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "dance"}))
	msg := readMsg(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["error"], "dance")

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe"}))
	assert.Equal(t, "error", readMsg(t, conn)["type"])
}

func TestWebSocket_ForwardsRunEvents(t *testing.T) {
	t.Parallel()
	srv, pub := newTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe", RunID: "run_ws"}))
	msg := readMsg(t, conn)
	require.Equal(t, "subscribed", msg["type"])
	assert.Equal(t, "run_ws", msg["run_id"])

	pub.Publish(events.NewEvent(events.EventRunStarted, "run_other", events.RunUpdate{Status: "RUNNING"}))
	pub.Publish(events.NewEvent(events.EventRunPaused, "run_ws", events.RunUpdate{Status: "PAUSED", CheckpointID: "chk_9"}))

	msg = readMsg(t, conn)
	assert.Equal(t, "event", msg["type"])
	assert.Equal(t, "run_paused", msg["event"])
	assert.Equal(t, "run_ws", msg["run_id"])
	assert.Equal(t, "chk_9", msg["data"].(map[string]any)["checkpoint_id"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "unsubscribe"}))
	assert.Equal(t, "unsubscribed", readMsg(t, conn)["type"])
	assert.Eventually(t, func() bool { return pub.SubscriberCount("run_ws") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_GlobalSubscriptionSeesSubmit(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe", RunID: events.GlobalRunID}))
	require.Equal(t, "subscribed", readMsg(t, conn)["type"])

	rec := doJSON(t, srv, "POST", "/invoice/submit", invoiceBody(100, 60))
	require.Equal(t, 200, rec.Code, rec.Body.String())

	seen := map[string]bool{}
	for !seen["run_paused"] {
		msg := readMsg(t, conn)
		seen[msg["event"].(string)] = true
	}
	assert.True(t, seen["run_started"])
	assert.True(t, seen["stage_completed"])
}

func TestWebSocket_CloseAll(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ping"}))
	readMsg(t, conn)
	require.Equal(t, 1, srv.wsHandler.ConnectionCount())

	srv.wsHandler.CloseAll()
	assert.Equal(t, 0, srv.wsHandler.ConnectionCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
