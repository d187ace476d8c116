package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomz197/pong/internal/rating"
	"github.com/tomz197/pong/internal/server"
)

func newTestServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t)
	ws := NewWebSocketServer(context.Background(), f.router, nil)
	srv := httptest.NewServer(NewHTTPHandler(f.engine, ws, nil))
	t.Cleanup(srv.Close)
	return srv, f
}

func dial(t *testing.T, srv *httptest.Server, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?username=" + username
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads envelopes until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ server.EventType) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var env Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		if env.Type == string(typ) {
			return env
		}
	}
}

func TestWebSocketMatch(t *testing.T) {
	srv, f := newTestServer(t)
	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	require.Eventually(t, func() bool { return f.engine.Stats().Connections == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"findGame","data":{"name":"alice"}}`)))
	readUntil(t, alice, server.EventWaiting)

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"findGame","data":{"name":"bob"}}`)))
	start := readUntil(t, alice, server.EventGameStart)
	readUntil(t, bob, server.EventGameStart)

	var st struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(start.Data, &st))
	assert.NotEmpty(t, st.ID)

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"paddleMove","data":{"position":-0.5}}`)))
	readUntil(t, alice, server.EventGameUpdate)

	require.NoError(t, alice.Close())
	over := readUntil(t, bob, server.EventGameOver)
	var payload struct {
		SessionID string `json:"sessionId"`
		Forfeit   bool   `json:"forfeit"`
	}
	require.NoError(t, json.Unmarshal(over.Data, &payload))
	assert.Equal(t, st.ID, payload.SessionID)
	assert.True(t, payload.Forfeit)
}

func TestWebSocketUnknownIntent(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "carol")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`)))
	env := readUntil(t, conn, server.EventError)
	assert.Equal(t, MsgUnknownIntent, errorText(t, env))
}

func TestHealthEndpoint(t *testing.T) {
	srv, f := newTestServer(t)
	f.router.Connect(newFakeClient("x"), "xavier")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Sessions    int    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Connections)
	assert.Equal(t, 0, body.Sessions)
}

func TestRankingsEndpoint(t *testing.T) {
	srv, f := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetRating(ctx, "ann", 1200, rating.Win))
	require.NoError(t, f.store.SetRating(ctx, "ben", 1100, rating.Win))
	require.NoError(t, f.store.SetRating(ctx, "cat", 900, rating.Loss))

	resp, err := http.Get(srv.URL + "/rankings?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var top []rating.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&top))
	assert.Equal(t, []rating.Entry{{Name: "ann", Rating: 1200}, {Name: "ben", Rating: 1100}}, top)

	bad, err := http.Get(srv.URL + "/rankings?limit=zero")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}
