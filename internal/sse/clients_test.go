package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastByTopic(t *testing.T) {
	clients := NewClients()

	a := &Client{Msg: make(chan Message, 1), Topic: PostTopic("1")}
	b := &Client{Msg: make(chan Message, 1), Topic: PostTopic("2")}
	clients.Add(a)
	clients.Add(b)
	assert.Equal(t, 1, clients.Count(PostTopic("1")))

	clients.Broadcast(PostTopic("1"), "reload", "now")

	select {
	case msg := <-a.Msg:
		assert.Equal(t, Message{Event: "reload", Data: "now"}, msg)
	default:
		t.Fatal("expected a message for topic subscriber")
	}
	assert.Empty(t, b.Msg)

	// Full buffer drops instead of blocking.
	clients.Broadcast(PostTopic("1"), "x", "1")
	clients.Broadcast(PostTopic("1"), "x", "2")
	assert.Len(t, a.Msg, 1)

	clients.Delete(a)
	clients.Delete(a)
	assert.Zero(t, clients.Count(PostTopic("1")))
}

func TestServeHTTPRequiresTopic(t *testing.T) {
	rec := httptest.NewRecorder()
	NewClients().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPStreams(t *testing.T) {
	clients := NewClients()
	srv := httptest.NewServer(clients)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse?topic="+EditorTopic("s1"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	require.Eventually(t, func() bool { return clients.Count(EditorTopic("s1")) == 1 }, time.Second, 5*time.Millisecond)
	clients.Broadcast(EditorTopic("s1"), "status", "Saved\nkey")

	var got []string
	for len(got) < 4 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		if line == "" || strings.HasPrefix(line, "data: editor:") {
			continue
		}
		got = append(got, line)
		if line == "data: key" {
			break
		}
	}
	assert.Equal(t, []string{"event: status", "data: Saved", "data: key"}, got)
}
