package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// echoServer answers every request with id != nil with a trivial success
// result, and replies to the method "notify.trigger" by pushing an unsolicited
// notification back down the same connection.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Method == "notify.trigger" {
				conn.WriteJSON(rpcResponse{JSONRPC: "2.0", Method: "status_update", Params: json.RawMessage(`{"ok":true}`)})
				continue
			}
			if req.ID == nil {
				continue // fire-and-forget, no response expected
			}
			conn.WriteJSON(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`"done"`)})
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestClient_CallRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := New(wsURL(srv.URL), testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Dial(ctx); err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	result, err := c.Call(ctx, "printer.gcode.script", map[string]string{"script": "G28"}, time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(result) != `"done"` {
		t.Errorf("result = %s, want \"done\"", result)
	}
}

func TestClient_CallTimesOutWhenServerIsSilent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			// never respond
		}
	}))
	defer srv.Close()

	c := New(wsURL(srv.URL), testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Dial(ctx); err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_, err := c.Call(ctx, "printer.gcode.script", nil, 50*time.Millisecond)
	if err != ErrTimeout {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestClient_NotificationDispatch(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := New(wsURL(srv.URL), testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Dial(ctx); err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	received := make(chan struct{}, 1)
	c.OnNotify("status_update", func(params json.RawMessage) {
		received <- struct{}{}
	})

	if err := c.SendFireAndForget("notify.trigger", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("notification handler was never invoked")
	}
}

func TestClient_CallAfterCloseFailsImmediately(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := New(wsURL(srv.URL), testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Dial(ctx); err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.Close()

	if _, err := c.Call(ctx, "printer.gcode.script", nil, time.Second); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := c.SendFireAndForget("printer.gcode.script", nil); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
