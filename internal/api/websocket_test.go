package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func dialHub(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v (response %v)", err, resp)
	}
	return conn
}

func waitForClients(t *testing.T, hub *WebSocketHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, have %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsRunEvents(t *testing.T) {
	srv := NewServer(ServerConfig{RateLimit: *testRateLimit})
	go srv.wsHub.Run()
	defer srv.Shutdown(context.Background())

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialHub(t, ts)
	defer conn.Close()
	waitForClients(t, srv.wsHub, 1)

	started, err := srv.Runs().Start(runConfig(8))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if first.Event != "run:event" {
		t.Fatalf("Expected run:event, got %s", first.Event)
	}
	data := first.Data.(map[string]interface{})
	if data["runId"] != started.ID || data["type"] != "seeded" {
		t.Errorf("Unexpected first event %v", data)
	}

	// read until the run reports done; the queue may drop events under load
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON failed before run:done: %v", err)
		}
		if msg.Event == "run:done" {
			done := msg.Data.(map[string]interface{})
			if done["status"] != "done" {
				t.Errorf("Expected status done, got %v", done["status"])
			}
			break
		}
	}
}

func TestHubPerIPLimit(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conns := make([]*websocket.Conn, 0, MaxWSConnectionsPerIP)
	for i := 0; i < MaxWSConnectionsPerIP; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Dial %d failed: %v", i, err)
		}
		conns = append(conns, conn)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected the connection over the per-IP limit to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %v", resp)
	}

	// closing one frees a slot
	conns[0].Close()
	conns = conns[1:]
	waitForClients(t, hub, MaxWSConnectionsPerIP-1)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial after release failed: %v", err)
	}
	conns = append(conns, conn)
}

func TestHubDropsBroadcastsWhenQueueFull(t *testing.T) {
	hub := NewWebSocketHub() // Run is not started, so nothing drains the queue
	before := testutil.ToFloat64(wsBroadcastsDropped)

	for i := 0; i < cap(hub.broadcast)+3; i++ {
		hub.Broadcast("run:event", i)
	}

	if got := testutil.ToFloat64(wsBroadcastsDropped) - before; got != 3 {
		t.Errorf("Expected 3 dropped broadcasts, got %v", got)
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer ts.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), header)
	if err == nil {
		t.Fatal("Expected foreign origin to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}
}
