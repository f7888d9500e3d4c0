package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(testLogger())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func receive(t *testing.T, sub *Subscription) JobUpdate {
	t.Helper()
	select {
	case u, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return JobUpdate{}
	}
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	hub := startHub(t)
	a, b := hub.Subscribe(), hub.Subscribe()
	defer a.Close()
	defer b.Close()

	jobID := uuid.New()
	hub.Publish(JobUpdate{JobID: jobID, Data: Delta{Status: "in_progress", Progress: IntPtr(50)}})

	for _, sub := range []*Subscription{a, b} {
		u := receive(t, sub)
		require.Equal(t, MessageType, u.Type)
		require.Equal(t, jobID, u.JobID)
		require.Equal(t, 50, *u.Data.Progress)
	}
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	hub := startHub(t)
	early := hub.Subscribe()
	defer early.Close()

	hub.Publish(JobUpdate{JobID: uuid.New(), Data: Delta{Status: "pending"}})
	receive(t, early)

	late := hub.Subscribe()
	defer late.Close()

	second := uuid.New()
	hub.Publish(JobUpdate{JobID: second, Data: Delta{Status: "completed"}})

	require.Equal(t, second, receive(t, late).JobID)
	require.Equal(t, second, receive(t, early).JobID)
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	hub := NewHub(testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < inboxSize*2; i++ {
			hub.Publish(JobUpdate{JobID: uuid.New()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	hub := startHub(t)
	slow, fast := hub.Subscribe(), hub.Subscribe()
	defer slow.Close()
	defer fast.Close()

	total := subscriberBufferSize + 10
	received := 0
	for i := 0; i < total; i++ {
		hub.Publish(JobUpdate{JobID: uuid.New()})
		receive(t, fast)
		received++
	}

	require.Equal(t, total, received)
	require.Len(t, slow.C, subscriberBufferSize)
}

func TestCloseEndsSubscription(t *testing.T) {
	hub := startHub(t)
	sub := hub.Subscribe()
	require.Equal(t, 1, hub.Subscribers())

	sub.Close()
	sub.Close()

	_, ok := <-sub.C
	require.False(t, ok)
	require.Equal(t, 0, hub.Subscribers())
}

func TestStoppedHubClosesSubscriptions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(testLogger())
	go hub.Run(ctx)

	sub := hub.Subscribe()
	cancel()

	select {
	case _, ok := <-sub.C:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after hub stopped")
	}
	require.Nil(t, hub.Subscribe())
	sub.Close()
}

func TestServeWSStreamsUpdates(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub.Subscribe(), testLogger(), w, r)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	jobID := uuid.New()
	hub.Publish(JobUpdate{JobID: jobID, Data: Delta{Status: "completed", Progress: IntPtr(100)}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &msg))
	require.Equal(t, "job_update", msg["type"])
	require.Equal(t, jobID.String(), msg["jobId"])
	data := msg["data"].(map[string]interface{})
	require.Equal(t, "completed", data["status"])
	require.EqualValues(t, 100, data["progress"])
}
