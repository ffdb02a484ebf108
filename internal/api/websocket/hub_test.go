package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type handlerFunc func(ctx context.Context, cmd ClientCommand) error

func (f handlerFunc) HandleClientCommand(ctx context.Context, cmd ClientCommand) error {
	return f(ctx, cmd)
}

func startHub(t *testing.T, handler CommandHandler) (*Hub, *websocket.Conn) {
	t.Helper()

	hub := NewHub(zaptest.NewLogger(t))
	if handler != nil {
		hub.SetCommandHandler(handler)
	}
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_Broadcast(t *testing.T) {
	hub, conn := startHub(t, nil)

	hub.Broadcast(NewShaftStateMessage("00000005", "done"))

	msg := readMessage(t, conn)
	assert.Equal(t, "shaft_state", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "00000005", data["shaft_word"])
	assert.Equal(t, "done", data["motion"])
}

func TestClient_CommandDispatch(t *testing.T) {
	received := make(chan ClientCommand, 1)
	_, conn := startHub(t, handlerFunc(func(ctx context.Context, cmd ClientCommand) error {
		received <- cmd
		return nil
	}))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "set_direction", "forward": false}))

	select {
	case cmd := <-received:
		assert.Equal(t, MessageTypeSetDirection, cmd.Type)
		require.NotNil(t, cmd.Forward)
		assert.False(t, *cmd.Forward)
	case <-time.After(2 * time.Second):
		t.Fatal("command not dispatched")
	}
}

func TestClient_RejectedCommandReportsProblem(t *testing.T) {
	_, conn := startHub(t, handlerFunc(func(ctx context.Context, cmd ClientCommand) error {
		return errors.New("loom not connected")
	}))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "oob_command", "command": "n"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "command_problem", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "loom not connected", data["message"])
	assert.Equal(t, "warning", data["severity"])
}

func TestClient_InvalidJSONKeepsConnection(t *testing.T) {
	_, conn := startHub(t, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type": 5}`)))
	msg := readMessage(t, conn)
	assert.Equal(t, "command_problem", msg["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "set_direction"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "command_problem", msg["type"])
	assert.Equal(t, "commands are not accepted", msg["data"].(map[string]any)["message"])
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, conn := startHub(t, nil)

	hub.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived) || strings.Contains(err.Error(), "close"))
}
