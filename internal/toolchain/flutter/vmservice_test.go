package flutter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestParseServiceURI recognizes both the old and the new announcement.
func TestParseServiceURI(t *testing.T) {
	t.Parallel()

	uri, ok := ParseServiceURI("flutter: Observatory listening on http://127.0.0.1:43567/Zf3a=/")
	require.True(t, ok)
	require.Equal(t, "http://127.0.0.1:43567/Zf3a=/", uri)

	uri, ok = ParseServiceURI("The Dart VM service is listening on http://127.0.0.1:1234/x=/")
	require.True(t, ok)
	require.Equal(t, "http://127.0.0.1:1234/x=/", uri)

	_, ok = ParseServiceURI("flutter: hello world")
	require.False(t, ok)
}

// TestWebSocketURI maps http service addresses to their ws endpoint.
func TestWebSocketURI(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"http://127.0.0.1:43567/Zf3a=/": "ws://127.0.0.1:43567/Zf3a=/ws",
		"http://127.0.0.1:43567/Zf3a=":  "ws://127.0.0.1:43567/Zf3a=/ws",
		"https://example.com/token=/":   "wss://example.com/token=/ws",
		"ws://127.0.0.1:43567/Zf3a=/ws": "ws://127.0.0.1:43567/Zf3a=/ws",
	}

	for in, want := range tests {
		got, err := WebSocketURI(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := WebSocketURI("ftp://127.0.0.1/")
	require.ErrorIs(t, err, errUnsupportedScheme)
}

// vmService answers getVersion after pushing an unrelated stream event.
func vmService(t *testing.T, reply map[string]any) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		defer func() {
			_ = conn.Close()
		}()

		var request map[string]any
		if err = conn.ReadJSON(&request); err != nil {
			return
		}

		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "streamNotify"})

		reply["id"] = request["id"]
		_ = conn.WriteJSON(reply)
	}))
	t.Cleanup(server.Close)

	return server
}

// TestProbeVMService reads the protocol version over the websocket endpoint.
func TestProbeVMService(t *testing.T) {
	t.Parallel()

	server := vmService(t, map[string]any{
		"jsonrpc": "2.0",
		"result":  map[string]any{"type": "Version", "major": 3, "minor": 61},
	})

	version, err := ProbeVMService(context.Background(), server.URL+"/token=/")
	require.NoError(t, err)
	require.Equal(t, &ServiceVersion{Major: 3, Minor: 61}, version)
	require.Equal(t, "3.61", version.String())
}

// TestProbeVMService_Error surfaces JSON-RPC errors.
func TestProbeVMService_Error(t *testing.T) {
	t.Parallel()

	server := vmService(t, map[string]any{
		"jsonrpc": "2.0",
		"error":   map[string]any{"code": 100, "message": "Feature is disabled"},
	})

	_, err := ProbeVMService(context.Background(), server.URL+"/token=/")
	require.ErrorIs(t, err, errServiceError)
}
