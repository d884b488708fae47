package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server, hello string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws_kinect"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestActorFramesReachObservers(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Router("/ws_kinect"))
	defer srv.Close()

	obs := dial(t, srv, `{"role":"observer"}`)
	defer obs.Close()
	waitFor(t, func() bool { return hub.Stats().Observers == 1 })

	actor := dial(t, srv, `{"role":"actor"}`)
	defer actor.Close()

	frame := `{"bodies":[{"id":"1","posture":0,"joints":[]}]}`
	if err := actor.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}

	obs.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, got, err := obs.ReadMessage()
	if err != nil {
		t.Fatalf("observer read: %v", err)
	}
	if string(got) != frame {
		t.Errorf("Observer got %s, want %s", got, frame)
	}

	waitFor(t, func() bool { return hub.Stats().Delivered == 1 })
	if s := hub.Stats(); s.Received != 1 || s.Actors != 1 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestObserverMessagesIgnored(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Router("/ws_kinect"))
	defer srv.Close()

	a := dial(t, srv, `{"role":"observer"}`)
	defer a.Close()
	b := dial(t, srv, `{"role":"observer"}`)
	defer b.Close()
	waitFor(t, func() bool { return hub.Stats().Observers == 2 })

	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"bodies":[]}`)); err != nil {
		t.Fatal(err)
	}

	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Error("Expected observer traffic not to be relayed")
	}
	if s := hub.Stats(); s.Received != 0 {
		t.Errorf("Expected nothing received, got %+v", s)
	}
}

func TestBadHandshakeRejected(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Router("/ws_kinect"))
	defer srv.Close()

	conn := dial(t, srv, `{"role":"spectator"}`)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("Expected policy violation close, got %v", err)
	}
	if hub.Stats().Rejected != 1 {
		t.Error("Expected rejected counter to increment")
	}
}

func TestBroadcastDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(nil)
	o := &observer{queue: make(chan []byte, 1)}
	hub.observers[o] = struct{}{}

	hub.Broadcast([]byte("a"))
	hub.Broadcast([]byte("b"))

	if got := hub.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if got := string(<-o.queue); got != "a" {
		t.Errorf("Queued frame = %q, want a", got)
	}
}

func TestHealthz(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Router("/ws_kinect"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var s Stats
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if s.Observers != 0 || s.Actors != 0 {
		t.Errorf("Unexpected counters %+v", s)
	}
}
