package server

import (
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/corescout/scoutd/internal/event"
)

func TestEventsStream(t *testing.T) {
	requireUnix(t)
	sup := newTestSup(t)
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(NewRouter(sup, "").Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	// The handler subscribes shortly after the handshake completes; keep
	// publishing until a frame comes through.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				sup.Events().Publish(event.Failure("worker gone", "probe", "events.log"))
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev event.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != event.TypeError || ev.Title != "worker gone" || ev.LogRef != "events.log" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestEventsStreamClosesWithSupervisor(t *testing.T) {
	requireUnix(t)
	sup := newTestSup(t)
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(NewRouter(sup, "").Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	if err := sup.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev event.Event
		if err := conn.ReadJSON(&ev); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("stream did not close: %v", err)
			}
			return // close frame or connection teardown, either ends the stream
		}
	}
}
