package session

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"seep/internal/server/relay"
	"seep/internal/shared/compression/qpack"
	"seep/internal/shared/protocol"
)

func startRelay(t *testing.T) string {
	t.Helper()
	server := relay.NewServer("", nil, "", zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/relay"
}

func dialPair(t *testing.T, url string) (*Session, *Session) {
	t.Helper()
	opts := Options{
		RelayURL:       url,
		Session:        "interop",
		MaxCapacity:    4096,
		BlockedStreams: 16,
	}

	type dialResult struct {
		sess *Session
		err  error
	}
	encCh := make(chan dialResult, 1)
	go func() {
		o := opts
		o.Role = protocol.RoleEncoder
		s, err := Dial(o)
		encCh <- dialResult{s, err}
	}()

	o := opts
	o.Role = protocol.RoleDecoder
	decoder, err := Dial(o)
	require.NoError(t, err)
	t.Cleanup(decoder.Close)

	res := <-encCh
	require.NoError(t, res.err)
	t.Cleanup(res.sess.Close)
	return res.sess, decoder
}

func TestSessionEndToEnd(t *testing.T) {
	url := startRelay(t)
	encoder, decoder := dialPair(t, url)

	type received struct {
		streamID uint64
		headers  []qpack.Header
	}
	gotCh := make(chan received, 4)
	recvDone := make(chan error, 1)
	go func() {
		recvDone <- decoder.Receive(func(streamID uint64, headers []qpack.Header) {
			gotCh <- received{streamID, headers}
		})
	}()
	ackDone := make(chan error, 1)
	go func() {
		ackDone <- encoder.AckLoop()
	}()

	require.NoError(t, encoder.SetCapacity(256))

	sent := []qpack.Header{
		qpack.NewHeader(":method", "GET"),
		qpack.NewHeader(":path", "/sample/path"),
		qpack.NewHeader("custom-key", "custom-value"),
	}
	streamID, err := encoder.SendHeaders(sent)
	require.NoError(t, err)

	select {
	case got := <-gotCh:
		assert.Equal(t, streamID, got.streamID)
		require.Len(t, got.headers, len(sent))
		for i := range sent {
			assert.Equal(t, sent[i].Name.Value, got.headers[i].Name.Value)
			assert.Equal(t, sent[i].Value.Value, got.headers[i].Value.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no block received")
	}

	// The decoder acknowledged the section; the encoder's table should
	// converge to fully acknowledged state.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := encoder.Codec().TableState()
		if st.InsertCount > 0 && st.KnownReceivedCount == st.InsertCount {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := encoder.Codec().TableState()
	assert.Equal(t, st.InsertCount, st.KnownReceivedCount)

	encoder.Close()
	decoder.Close()
	require.NoError(t, <-recvDone)
	require.NoError(t, <-ackDone)
}

func TestSessionRoleEnforcement(t *testing.T) {
	url := startRelay(t)
	encoder, decoder := dialPair(t, url)

	_, err := decoder.SendHeaders([]qpack.Header{qpack.NewHeader("a", "b")})
	assert.Error(t, err)

	err = encoder.Receive(nil)
	assert.Error(t, err)
}
