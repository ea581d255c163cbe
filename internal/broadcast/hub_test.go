package broadcast_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-grader/internal/broadcast"
	"github.com/ahrav/go-grader/internal/domain"
)

func dial(t *testing.T, srv *httptest.Server, entity string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?entity=" + entity
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *broadcast.Hub, entity string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers(entity) == n },
		2*time.Second, 10*time.Millisecond)
}

func TestHub_DeliversToEntitySubscribers(t *testing.T) {
	hub := broadcast.NewHub(nil)
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	watcher := dial(t, srv, "submission:7")
	other := dial(t, srv, "submission:8")
	waitForSubscribers(t, hub, "submission:7", 1)
	waitForSubscribers(t, hub, "submission:8", 1)

	err := hub.Broadcast(context.Background(), domain.NewEntityRef("submission", "7"),
		"completed", map[string]any{"grade": "B+"})
	require.NoError(t, err)

	_ = watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := watcher.ReadMessage()
	require.NoError(t, err)

	var msg broadcast.Message
	require.NoError(t, json.Unmarshal(frame, &msg))
	assert.Equal(t, "submission:7", msg.Entity)
	assert.Equal(t, "completed", msg.Event)
	assert.Equal(t, map[string]any{"grade": "B+"}, msg.Data)

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "other entities receive nothing")
}

func TestHub_RejectsMissingEntity(t *testing.T) {
	hub := broadcast.NewHub(nil)
	rec := httptest.NewRecorder()
	hub.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHub_ClosedHub(t *testing.T) {
	hub := broadcast.NewHub(nil)
	hub.Close()
	err := hub.Broadcast(context.Background(), domain.NewEntityRef("submission", "1"), "failed", nil)
	assert.ErrorIs(t, err, broadcast.ErrHubClosed)
}

func TestHub_UnsubscribesOnDisconnect(t *testing.T) {
	hub := broadcast.NewHub(nil)
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dial(t, srv, "submission:9")
	waitForSubscribers(t, hub, "submission:9", 1)
	require.NoError(t, conn.Close())
	waitForSubscribers(t, hub, "submission:9", 0)
}
