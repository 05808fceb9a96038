package position_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/events"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/position"
)

func startHub(t *testing.T, origins ...string) (*position.WSHub, string) {
	t.Helper()
	hub := position.NewWSHub(origins...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(url, origin string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func TestWSHub_RejectsUnlistedOrigin(t *testing.T) {
	_, url := startHub(t, "https://app.example.com")

	conn, resp, err := dial(url, "https://evil.example.com")
	if conn != nil {
		conn.Close()
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected handshake to fail, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}
}

func TestWSHub_AcceptsListedOrigin(t *testing.T) {
	for _, origin := range []string{"https://app.example.com", "HTTPS://APP.EXAMPLE.COM", ""} {
		_, url := startHub(t, "https://app.example.com/")

		conn, _, err := dial(url, origin)
		if err != nil {
			t.Errorf("origin %q: expected upgrade, got %v", origin, err)
			continue
		}
		conn.Close()
	}
}

func TestWSHub_WildcardAcceptsAnyOrigin(t *testing.T) {
	_, url := startHub(t, "*")

	conn, _, err := dial(url, "https://anywhere.example.com")
	if err != nil {
		t.Fatalf("expected upgrade, got %v", err)
	}
	conn.Close()
}

func TestWSHub_DeliversPublishedEvents(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := dial(url, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous, so keep publishing until one arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.Publish(context.Background(), events.Event{Type: events.TypeOpened, PositionID: "p1"})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != events.TypeOpened || ev.PositionID != "p1" {
		t.Errorf("unexpected event %+v", ev)
	}
}
