package wsserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestServer(t *testing.T, handler func(c *Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		handler(c)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWriteTextRoundTrip(t *testing.T) {
	srv := startTestServer(t, func(c *Conn) {
		defer c.Close()
		if err := c.WriteText([]byte("hello")); err != nil {
			t.Errorf("WriteText: %v", err)
		}
	})

	client := dial(t, srv)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != websocket.TextMessage || string(data) != "hello" {
		t.Fatalf("got (%d, %q), want (text, hello)", msgType, data)
	}
}

func TestReadMessageReceivesClientFrames(t *testing.T) {
	received := make(chan []byte, 1)
	srv := startTestServer(t, func(c *Conn) {
		defer c.Close()
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Errorf("ReadMessage: %v", err)
			return
		}
		received <- data
	})

	client := dial(t, srv)
	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"resize":{"cols":80,"rows":24}}`)); err != nil {
		t.Fatalf("client WriteMessage: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"resize":{"cols":80,"rows":24}}` {
			t.Fatalf("got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := startTestServer(t, func(c *Conn) {
		if err := c.Close(); err != nil {
			t.Errorf("first Close: %v", err)
		}
		if err := c.Close(); err != nil {
			t.Errorf("second Close (idempotent): %v", err)
		}
	})
	dial(t, srv)
	time.Sleep(50 * time.Millisecond)
}
