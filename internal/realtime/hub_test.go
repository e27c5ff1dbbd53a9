package realtime_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/realtime"
)

func TestHub_ServeSession_DeliversEventsToSubscriber(t *testing.T) {
	hub := realtime.NewHub(nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeSession(w, r, "sess-1")
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give ServeSession a moment to register the client before publishing.
	require.Eventually(t, func() bool { return hub.ActiveSessionCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.OnSessionEvent(core.SessionEvent{
		SessionID: "sess-1",
		Kind:      core.SessionTeardown,
		Payload:   core.SessionEventPayload{Status: core.SessionStatusCompleted},
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got core.SessionEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, core.SessionStatusCompleted, got.Payload.Status)
}

func TestHub_OnSessionEvent_NoSubscribersIsNoop(t *testing.T) {
	hub := realtime.NewHub(nil)
	hub.OnSessionEvent(core.SessionEvent{SessionID: "unknown"})
	assert.Equal(t, 0, hub.ActiveSessionCount())
}

func TestHub_ActiveSessionCount_DropsAfterDisconnect(t *testing.T) {
	hub := realtime.NewHub(nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeSession(w, r, "sess-2")
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ActiveSessionCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return hub.ActiveSessionCount() == 0 }, time.Second, 5*time.Millisecond)
}
