package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func mockStreamServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(httpURL string) string {
	return strings.Replace(httpURL, "http://", "ws://", 1)
}

func TestStream_SubscribesAndDeliversUpdates(t *testing.T) {
	subscribed := make(chan map[string]string, 1)
	server := mockStreamServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub map[string]string
		json.Unmarshal(msg, &sub)
		subscribed <- sub

		conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"user","type":"ack"}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"order_id":"v-1","status":"PARTIALLY_FILLED","fill_size":"40","fill_price":"0.55","timestamp_ms":1700000000000}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	updates := make(chan OrderUpdate, 4)
	s := NewStream(wsURL(server.URL), "test-key", func(u OrderUpdate) {
		updates <- u
	})
	s.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	select {
	case sub := <-subscribed:
		if sub["channel"] != "user" || sub["api_key"] != "test-key" {
			t.Errorf("subscribe payload = %v", sub)
		}
	case <-time.After(time.Second):
		t.Fatal("no subscribe message received")
	}

	select {
	case u := <-updates:
		if u.VenueOrderID != "v-1" || !u.FillSize.Equal(dec(40)) {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("order update never delivered")
	}

	// The ack without an order_id must not reach the callback.
	select {
	case u := <-updates:
		t.Errorf("unexpected second update %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStream_ReconnectsAfterDrop(t *testing.T) {
	var connects int32
	server := mockStreamServer(t, func(conn *websocket.Conn) {
		n := atomic.AddInt32(&connects, 1)
		conn.ReadMessage() // consume subscribe
		if n == 1 {
			return // drop the first connection immediately
		}
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"order_id":"v-2","status":"FILLED","fill_size":"100","fill_price":"0.55"}`))
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	updates := make(chan OrderUpdate, 1)
	s := NewStream(wsURL(server.URL), "", func(u OrderUpdate) {
		updates <- u
	})
	s.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	select {
	case u := <-updates:
		if u.VenueOrderID != "v-2" {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("stream did not recover after connection drop")
	}
	if atomic.LoadInt32(&connects) < 2 {
		t.Errorf("connects = %d, want at least 2", connects)
	}
}

func TestStream_StopDoesNotHang(t *testing.T) {
	hold := make(chan struct{})
	server := mockStreamServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		<-hold
	})
	defer server.Close()
	defer close(hold)

	s := NewStream(wsURL(server.URL), "", nil)
	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Stop did not return")
	}
}
