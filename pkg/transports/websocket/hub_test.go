package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type snapshot struct {
	Live  string `json:"live"`
	Count int    `json:"count"`
}

func connect(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubSendsLatestSnapshotOnConnect(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	if err := h.Publish(snapshot{Live: "hello", Count: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := connect(t, srv)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Live != "hello" || got.Count != 1 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestForwardPublishesUpdates(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := connect(t, srv)
	defer conn.Close()
	waitClients(t, h, 1)

	updates := make(chan snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Forward(ctx, h, updates)
	updates <- snapshot{Live: "world", Count: 2}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Count != 2 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := connect(t, srv)
	waitClients(t, h, 1)
	_ = conn.Close()
	waitClients(t, h, 0)
}

func TestOfferKeepsNewest(t *testing.T) {
	ch := make(chan []byte, 1)
	offer(ch, []byte("a"))
	offer(ch, []byte("b"))
	if got := string(<-ch); got != "b" {
		t.Fatalf("expected newest message, got %q", got)
	}
}
