package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"seep/internal/shared/protocol"
)

func startRelay(t *testing.T) (string, *Server) {
	t.Helper()
	server := NewServer("", nil, "", zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/relay", server
}

func dialAndJoin(t *testing.T, url, session string, role protocol.Role) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	join, err := protocol.EncodeMessage(&protocol.Message{
		Type:    protocol.TypeJoin,
		Session: session,
		Role:    role,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, join))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeMessage(data)
	require.NoError(t, err)
	return msg
}

func TestRelayPairsAndForwards(t *testing.T) {
	url, _ := startRelay(t)

	encoder := dialAndJoin(t, url, "s1", protocol.RoleEncoder)
	decoder := dialAndJoin(t, url, "s1", protocol.RoleDecoder)

	assert.Equal(t, protocol.TypePaired, readMessage(t, encoder).Type)
	assert.Equal(t, protocol.TypePaired, readMessage(t, decoder).Type)

	chunk := protocol.Chunk{Kind: protocol.StreamEncoder, Payload: []byte{0x3f, 0xbd, 0x01}}
	require.NoError(t, encoder.WriteMessage(websocket.BinaryMessage, chunk.MarshalBinary()))

	decoder.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := decoder.ReadMessage()
	require.NoError(t, err)
	var got protocol.Chunk
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, protocol.StreamEncoder, got.Kind)
	assert.Equal(t, []byte{0x3f, 0xbd, 0x01}, []byte(got.Payload))
}

func TestRelayRejectsDuplicateRole(t *testing.T) {
	url, _ := startRelay(t)

	first := dialAndJoin(t, url, "s1", protocol.RoleEncoder)
	second := dialAndJoin(t, url, "s1", protocol.RoleEncoder)

	msg := readMessage(t, second)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Contains(t, msg.Error, "already taken")

	_ = first
}

func TestRelayRejectsMissingJoin(t *testing.T) {
	url, _ := startRelay(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	chunk := protocol.Chunk{Kind: protocol.StreamEncoder, Payload: []byte{0x01}}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, chunk.MarshalBinary()))

	msg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeError, msg.Type)
}
