package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// serverConn returns the server half of a live WebSocket pair.
func serverConn(t *testing.T, cfg Config) (*Conn, *websocket.Conn) {
	t.Helper()
	got := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		got <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ws := <-got:
		return newConn(ws, cfg, time.Now()), client
	case <-time.After(3 * time.Second):
		t.Fatal("no server connection")
		return nil, nil
	}
}

func TestTrySendBackpressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBuffer = 1
	c, _ := serverConn(t, cfg)

	if err := c.TrySend([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.TrySend([]byte("b")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("err = %v, want ErrBackpressure", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := serverConn(t, DefaultConfig())
	c.Close()
	c.Close()
	if c.IsOpen() {
		t.Fatal("still open")
	}
	if err := c.TrySend([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := c.Probe(); !errors.Is(err, ErrClosed) {
		t.Fatalf("probe err = %v, want ErrClosed", err)
	}
}

func TestProbeClearsAliveUntilPong(t *testing.T) {
	c, client := serverConn(t, DefaultConfig())
	if !c.Alive() {
		t.Fatal("new connection should be alive")
	}
	if err := c.Probe(); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if c.Alive() {
		t.Fatal("probe did not clear the flag")
	}

	// the server side must be reading for the pong handler to run
	c.ws.SetPongHandler(func(string) error {
		c.pong(time.Now())
		return nil
	})
	go func() {
		for {
			if _, _, err := c.ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	// the default client ping handler answers with a pong once it reads
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for !c.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("pong never restored the flag")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRateLimiter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 2
	c, _ := serverConn(t, cfg)

	if !c.allow() || !c.allow() {
		t.Fatal("burst should be allowed")
	}
	if c.allow() {
		t.Fatal("third message in the same instant should be limited")
	}
}
